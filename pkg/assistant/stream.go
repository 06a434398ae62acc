package assistant

import "sync"

// Stream delivers the decoded events of one run. The channel is closed
// when the run reaches a terminal state or the underlying transport ends;
// an EventError is always the last event on a failed stream.
type Stream struct {
	events    <-chan Event
	closeOnce sync.Once
	closeFn   func()
}

// NewStream wraps an event channel and a close function. Provider
// implementations use it; callers only range over Events.
func NewStream(events <-chan Event, closeFn func()) *Stream {
	return &Stream{events: events, closeFn: closeFn}
}

// Events returns the run's event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close releases the underlying connection. Safe to call more than once
// and after the channel has drained.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
