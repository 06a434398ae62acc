// Package broker consumes conversation jobs from RabbitMQ, owning queue
// topology, delivery acknowledgement, and reply-to responses.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/user/chatrelay/internal/errdefs"
	"github.com/user/chatrelay/internal/types"
)

// Handler processes one decoded job. A nil return acks the delivery; a
// kind-tagged error drives the requeue/reject decision.
type Handler func(ctx context.Context, job types.Job) error

// Config describes the queue topology the consumer declares on startup.
type Config struct {
	URL        string
	Queue      string
	RoutingKey string
	Exchange   string
	// MessageTTL ages stale jobs out of the main queue into the dead
	// letter path.
	MessageTTL time.Duration
}

func (c Config) deadLetterExchange() string { return c.Exchange + "_dlx" }
func (c Config) deadLetterQueue() string    { return c.Queue + "_failed" }

// Consumer runs the delivery loop. One consumer per worker process; the
// prefetch of one keeps at most one unacknowledged delivery in flight.
type Consumer struct {
	cfg     Config
	handler Handler
	log     *slog.Logger
	tag     string
}

func NewConsumer(cfg Config, handler Handler, log *slog.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		log:     log,
		tag:     types.NewConsumerTag("chatrelay"),
	}
}

// Run consumes until the context is cancelled, redialing with a fixed
// delay whenever the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("broker session ended, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.cfg); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	c.log.Info("consuming", "queue", c.cfg.Queue, "consumer_tag", c.tag)

	for {
		select {
		case <-ctx.Done():
			ch.Cancel(c.tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, ch, d)
		}
	}
}

// declareTopology sets up the main exchange/queue pair and its dead letter
// mirror. Rejected messages and TTL-expired messages land on the failed
// queue for offline inspection.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.deadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.deadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.deadLetterQueue(), cfg.RoutingKey, cfg.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange": cfg.deadLetterExchange(),
		"x-message-ttl":          int32(cfg.MessageTTL / time.Millisecond),
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish sends one job to the conversation exchange, declaring the
// topology first so it works against a fresh broker. Used by the operator
// CLI to inject test messages.
func Publish(ctx context.Context, cfg Config, job types.Job) error {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, cfg); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = ch.PublishWithContext(ctx, cfg.Exchange, cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   job.MessageID,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// ackAction is the terminal disposition of one delivery.
type ackAction int

const (
	actionAck ackAction = iota
	actionRequeue
	actionReject
)

// decide maps a handler result onto a delivery disposition. Capacity
// contention requeues exactly once: the broker marks the redelivery, and a
// second rejection goes to the dead letter path like any other failure.
func decide(err error, redelivered bool) ackAction {
	if err == nil {
		return actionAck
	}
	if errdefs.Is(err, errdefs.KindCapacity) && !redelivered {
		return actionRequeue
	}
	return actionReject
}

// parseJob decodes and validates a delivery body. Validation failures are
// terminal: malformed input cannot self-heal on redelivery.
func parseJob(body []byte) (types.Job, error) {
	var job types.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return types.Job{}, errdefs.Wrap(errdefs.KindValidation, "invalid JSON body", err)
	}
	if job.Message == "" {
		return types.Job{}, errdefs.New(errdefs.KindValidation, "missing required 'message' field")
	}
	if job.Channel == "" {
		return types.Job{}, errdefs.New(errdefs.KindValidation, "missing required 'channel' field")
	}
	if job.MessageID == "" {
		return types.Job{}, errdefs.New(errdefs.KindValidation, "missing required 'message_id' field")
	}
	return job, nil
}

// handleDelivery guarantees every delivery is acked or rejected exactly
// once, even if the handler panics.
func (c *Consumer) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	settled := false
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in delivery handler", "panic", r)
			if !settled {
				d.Reject(false)
			}
		}
	}()

	job, err := parseJob(d.Body)
	if err != nil {
		c.log.Error("rejecting invalid job", "error", err)
		c.reply(ch, d, false, err.Error())
		d.Reject(false)
		settled = true
		return
	}

	err = c.handler(ctx, job)
	switch decide(err, d.Redelivered) {
	case actionAck:
		c.reply(ch, d, true, "")
		if aerr := d.Ack(false); aerr != nil {
			c.log.Error("ack failed", "message_id", job.MessageID, "error", aerr)
		}
	case actionRequeue:
		c.log.Info("requeueing for capacity", "message_id", job.MessageID)
		if nerr := d.Nack(false, true); nerr != nil {
			c.log.Error("nack failed", "message_id", job.MessageID, "error", nerr)
		}
	case actionReject:
		c.reply(ch, d, false, err.Error())
		if rerr := d.Reject(false); rerr != nil {
			c.log.Error("reject failed", "message_id", job.MessageID, "error", rerr)
		}
	}
	settled = true
}

// reply publishes the synchronous outcome to the delivery's reply-to
// address when one was provided. Best effort.
func (c *Consumer) reply(ch *amqp.Channel, d amqp.Delivery, success bool, errMsg string) {
	if d.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(types.Reply{Success: success, Error: errMsg})
	if err != nil {
		return
	}
	err = ch.PublishWithContext(context.Background(), "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
	if err != nil {
		c.log.Warn("reply publish failed", "reply_to", d.ReplyTo, "error", err)
	}
}
