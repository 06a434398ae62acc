// Package worker runs the conversation pipeline for one job: single-flight
// admission, session resolution, then the streaming relay, with exactly one
// user-facing notification on failure.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/relay"
	"github.com/user/chatrelay/internal/session"
	"github.com/user/chatrelay/internal/tools"
	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/assistant"
)

// Transport is the slice of the pub/sub client the worker drives. Each job
// gets a fresh instance so a failed job cannot poison the next one's
// connection.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, ch types.Channel) error
	Publish(ctx context.Context, ch types.Channel, msg types.Message) error
	Disconnect()
}

// TransportFactory builds a new, unconnected transport.
type TransportFactory func() Transport

// Options carries the pipeline's tunables.
type Options struct {
	JobTimeout    time.Duration
	RunOptions    relay.Options
	Model         string
	AssistantName string
}

// BuildAssistantRequest assembles the provider-side assistant definition:
// persona instructions plus the registry's current tool schemas. The CLI
// uses the same request so a pre-created assistant matches what the worker
// would create lazily.
func BuildAssistantRequest(name, model string, registry *tools.Registry) assistant.AssistantRequest {
	return assistant.AssistantRequest{
		Name:         name,
		Model:        model,
		Instructions: assistantInstructions,
		Functions:    registry.Definitions(),
	}
}

// Worker executes one job at a time. The admission gate is process-wide:
// horizontal scaling happens by adding worker processes, not by widening
// the gate.
type Worker struct {
	provider  assistant.Provider
	resolver  *session.Resolver
	registry  *tools.Registry
	transport TransportFactory
	opts      Options
	log       *slog.Logger

	gate *semaphore.Weighted
}

func New(provider assistant.Provider, resolver *session.Resolver, registry *tools.Registry,
	transport TransportFactory, opts Options, log *slog.Logger) *Worker {
	return &Worker{
		provider:  provider,
		resolver:  resolver,
		registry:  registry,
		transport: transport,
		opts:      opts,
		log:       log,
		gate:      semaphore.NewWeighted(1),
	}
}

// Process runs the full pipeline for one job. The returned error is
// kind-tagged so the broker layer can choose between requeue and reject;
// nil means the run completed and the delivery should be acked.
func (w *Worker) Process(ctx context.Context, job types.Job) error {
	// Capacity check happens before the job timeout starts: a held gate
	// is a redelivery signal, not a failure of this job.
	if !w.gate.TryAcquire(1) {
		return errdefs.New(errdefs.KindCapacity, "conversation already in progress")
	}
	defer w.gate.Release(1)

	ctx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	log := w.log.With("channel", job.Channel, "message_id", job.MessageID)
	log.Info("processing job")

	err := w.run(ctx, job, log)
	if err != nil {
		log.Error("job failed", "kind", errdefs.KindOf(err), "error", err)
		w.notifyFailure(job, err, log)
		return err
	}
	log.Info("job completed")
	return nil
}

func (w *Worker) run(ctx context.Context, job types.Job, log *slog.Logger) error {
	transport := w.transport()
	if err := transport.Connect(ctx); err != nil {
		return err
	}
	defer transport.Disconnect()
	if err := transport.Subscribe(ctx, job.Channel); err != nil {
		return err
	}

	started := types.NewMessage("Message received", types.StatusStarted, types.TypeStatus)
	started.MessageID = job.MessageID
	if err := transport.Publish(ctx, job.Channel, started); err != nil {
		log.Warn("failed to publish started status", "error", err)
	}

	sess, err := w.resolver.Resolve(ctx, job.Channel)
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, "resolve session", err)
	}

	assistantID, err := w.resolver.AssistantID(ctx, BuildAssistantRequest(w.opts.AssistantName, w.opts.Model, w.registry))
	if err != nil {
		return errdefs.ClassifyProvider(err)
	}

	if _, err := w.provider.CreateMessage(ctx, string(sess.ThreadID), job.Message); err != nil {
		return w.handleProviderErr(ctx, job.Channel, err, log)
	}

	run := relay.NewRunSession(w.provider, w.registry, transport,
		job.Channel, string(sess.ThreadID), assistantID, job.MessageID,
		w.opts.RunOptions, log)
	if err := run.Run(ctx); err != nil {
		return w.handleProviderErr(ctx, job.Channel, err, log)
	}

	w.resolver.RecordMessage(ctx, sess)
	return nil
}

// handleProviderErr invalidates the channel's session when the provider
// reports the thread missing, so the next job starts a fresh thread.
func (w *Worker) handleProviderErr(ctx context.Context, ch types.Channel, err error, log *slog.Logger) error {
	if errors.Is(err, assistant.ErrNotFound) {
		log.Info("thread gone, invalidating session")
		if ierr := w.resolver.Invalidate(ctx, ch); ierr != nil {
			log.Warn("failed to invalidate session", "error", ierr)
		}
		return errdefs.Wrap(errdefs.KindProtocol, "conversation thread missing", err)
	}
	return errdefs.ClassifyProvider(err)
}

// notifyFailure publishes the single user-facing error message for a
// failed job over a fresh transport, since the job's own connection may be
// in an unknown state. Best effort: a notification failure is logged and
// swallowed.
func (w *Worker) notifyFailure(job types.Job, err error, log *slog.Logger) {
	// Capacity rejections redeliver; the retried job will notify if it
	// fails for real.
	if errdefs.Is(err, errdefs.KindCapacity) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := w.transport()
	if cerr := transport.Connect(ctx); cerr != nil {
		log.Warn("cannot open transport for error notification", "error", cerr)
		return
	}
	defer transport.Disconnect()
	if serr := transport.Subscribe(ctx, job.Channel); serr != nil {
		log.Warn("cannot subscribe for error notification", "error", serr)
		return
	}

	msg := types.NewMessage(errdefs.UserMessage(err), types.StatusError, types.TypeError)
	msg.MessageID = job.MessageID
	msg.ErrorDetails = err.Error()
	if perr := transport.Publish(ctx, job.Channel, msg); perr != nil {
		log.Warn("failed to publish error notification", "error", perr)
	}
}
