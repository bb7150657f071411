// Package worker consumes order events from a queue, one message at a time,
// and settles every delivery explicitly.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
)

// Subscriber is the session surface a Worker uses.
type Subscriber interface {
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
	Publish(ctx context.Context, m broker.Message) error
}

// Message is a decoded delivery.
type Message struct {
	ID          string
	Queue       string
	Redelivered bool
	Event       models.OrderEvent
}

// Handler processes one order event. Returning nil acknowledges the
// message; errors are retried unless wrapped with Permanent.
type Handler interface {
	HandleOrder(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleOrder(ctx context.Context, msg Message) error { return f(ctx, msg) }

// State is the lifecycle of a Worker.
type State int32

const (
	StateSubscribing State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	Queue           string
	DeadLetterQueue string
	ConsumerTag     string
	MaxAttempts     int
}

// Worker is the consumer loop for one queue on one session.
type Worker struct {
	cfg     Config
	session Subscriber
	handler Handler
	policy  Policy
	counter AttemptCounter
	logger  *slog.Logger
	state   atomic.Int32
}

type Option func(*Worker)

func WithCounter(c AttemptCounter) Option {
	return func(w *Worker) { w.counter = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func New(session Subscriber, handler Handler, cfg Config, opts ...Option) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = cfg.Queue + "-" + uuid.NewString()
	}

	w := &Worker{
		cfg:     cfg,
		session: session,
		handler: handler,
		policy:  Policy{MaxAttempts: cfg.MaxAttempts, DeadLetter: cfg.DeadLetterQueue != ""},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.counter == nil {
		w.counter = NewMemoryCounter()
	}
	w.logger = w.logger.With("queue", cfg.Queue)
	return w
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Run subscribes and handles deliveries until ctx is canceled (returns nil)
// or the session goes away (returns broker.ErrSessionClosed). A message
// being handled when ctx is canceled is finished and settled first.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateSubscribing)
	defer w.setState(StateClosed)

	msgs, err := w.session.Consume(w.cfg.Queue, w.cfg.ConsumerTag)
	if err != nil {
		return err
	}

	w.setState(StateActive)
	w.logger.Info("Waiting for messages.", "consumer_tag", w.cfg.ConsumerTag)

	for {
		select {
		case <-ctx.Done():
			if err := w.session.Cancel(w.cfg.ConsumerTag); err != nil {
				w.logger.Warn("Failed to cancel consumer", "error", err)
			}
			w.logger.Info("Shutting down worker...")
			return nil
		case d, ok := <-msgs:
			if !ok {
				w.logger.Info("Channel closed, shutting down.")
				return broker.ErrSessionClosed
			}
			w.process(ctx, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, d amqp.Delivery) {
	// In-flight work is never cut short by shutdown.
	ctx = context.WithoutCancel(ctx)

	msg := Message{ID: d.MessageId, Queue: w.cfg.Queue, Redelivered: d.Redelivered}

	event, err := decode(d)
	if err == nil {
		msg.Event = event
		err = w.handle(ctx, msg)
	}

	attempts := 0
	if w.policy.Retryable(err) {
		attempts = w.countAttempt(ctx, d)
	}
	outcome := w.policy.Decide(err, attempts)

	w.settle(ctx, d, outcome, err, attempts)
}

func decode(d amqp.Delivery) (models.OrderEvent, error) {
	codec, err := broker.CodecFor(d.ContentType)
	if err != nil {
		return models.OrderEvent{}, err
	}

	var event models.OrderEvent
	if err := codec.Unmarshal(d.Body, &event); err != nil {
		return models.OrderEvent{}, &broker.SerializationError{ContentType: codec.ContentType(), Err: err}
	}
	return event, nil
}

func (w *Worker) handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &broker.HandlerError{MessageID: msg.ID, Err: Permanent(fmt.Errorf("panic: %v", r))}
		}
	}()

	if err := w.handler.HandleOrder(ctx, msg); err != nil {
		return &broker.HandlerError{MessageID: msg.ID, Err: err}
	}
	return nil
}

// countAttempt returns how many times this message has now failed. Without
// a message ID the only signal is the redelivered flag, so a redelivered
// message counts as exhausted.
func (w *Worker) countAttempt(ctx context.Context, d amqp.Delivery) int {
	if d.MessageId == "" {
		if d.Redelivered {
			return w.policy.MaxAttempts
		}
		return 1
	}

	n, err := w.counter.Incr(ctx, w.counterKey(d))
	if err != nil {
		w.logger.Warn("Failed to count delivery attempt", "message_id", d.MessageId, "error", err)
		return 0
	}
	return int(n)
}

func (w *Worker) counterKey(d amqp.Delivery) string {
	return w.cfg.Queue + ":" + d.MessageId
}

func (w *Worker) settle(ctx context.Context, d amqp.Delivery, outcome Outcome, cause error, attempts int) {
	log := w.logger.With("message_id", d.MessageId, "delivery_tag", d.DeliveryTag, "outcome", outcome.String())

	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
		log.Info("Message processed")
	case RejectRequeue:
		err = d.Nack(false, true)
		log.Warn("Message requeued", "attempts", attempts, "error", cause)
	case RejectDiscard:
		err = d.Nack(false, false)
		log.Error("Message discarded", "attempts", attempts, "error", cause)
	case DeadLetter:
		if perr := w.deadLetter(ctx, d, cause, attempts); perr != nil {
			log.Error("Failed to dead-letter message, requeueing", "error", perr, "cause", cause)
			err = d.Nack(false, true)
			break
		}
		err = d.Ack(false)
		log.Error("Message dead-lettered", "dead_letter_queue", w.cfg.DeadLetterQueue, "attempts", attempts, "error", cause)
	}
	if err != nil {
		log.Error("Failed to settle message", "error", err)
	}

	if d.MessageId != "" && outcome != RejectRequeue && (attempts > 0 || d.Redelivered) {
		if err := w.counter.Forget(ctx, w.counterKey(d)); err != nil {
			log.Warn("Failed to reset delivery attempts", "error", err)
		}
	}
}

func (w *Worker) deadLetter(ctx context.Context, d amqp.Delivery, cause error, attempts int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[broker.HeaderOriginalQueue] = w.cfg.Queue
	headers[broker.HeaderAttempts] = int64(attempts)
	headers[broker.HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339)
	if cause != nil {
		headers[broker.HeaderError] = cause.Error()
	}

	err := w.session.Publish(ctx, broker.Message{
		RoutingKey:  w.cfg.DeadLetterQueue,
		ContentType: d.ContentType,
		MessageID:   d.MessageId,
		Headers:     headers,
		Body:        d.Body,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("publish to %q", w.cfg.DeadLetterQueue), err)
	}
	return nil
}
