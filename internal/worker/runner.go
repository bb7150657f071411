package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
)

// StatusReporter receives readiness changes, normally a *health.Status.
type StatusReporter interface {
	SetReady()
	SetUnready(reason string)
}

// Session is what the Runner needs from an open, declared session.
type Session interface {
	Subscriber
	Close() error
}

type RunnerConfig struct {
	Topology broker.Topology
	Queue    broker.QueueDescriptor
	Session  broker.SessionOptions
	Worker   Config

	// ReconnectDelay is waited before reconnecting after a lost session.
	ReconnectDelay time.Duration
}

// Runner keeps one Worker subscribed for the life of the process. It
// connects through the bounded-retry connector, declares the queue, runs
// the worker and reconnects when the session is lost. Exhausted connection
// retries and declaration errors are terminal.
type Runner struct {
	cfg     RunnerConfig
	handler Handler
	opts    []Option
	status  StatusReporter
	logger  *slog.Logger
	open    func(ctx context.Context) (Session, error)
}

// Connector is satisfied by *broker.Connector.
type Connector interface {
	Connect(ctx context.Context) (*amqp.Connection, error)
}

func NewRunner(connector Connector, cfg RunnerConfig, handler Handler, status StatusReporter, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		handler: handler,
		// One counter for every session, so attempts survive reconnects.
		opts:   append([]Option{WithLogger(logger), WithCounter(NewMemoryCounter())}, opts...),
		status: status,
		logger: logger,
	}
	r.open = func(ctx context.Context) (Session, error) {
		conn, err := connector.Connect(ctx)
		if err != nil {
			return nil, err
		}
		s, err := broker.OpenSession(conn, cfg.Session)
		if err != nil {
			return nil, err
		}
		if err := s.Declare(cfg.Topology, cfg.Queue); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
	return r
}

// Run blocks until ctx is canceled (returns nil) or a terminal error occurs.
func (r *Runner) Run(ctx context.Context) error {
	for {
		session, err := r.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.status.SetUnready(err.Error())
			return fmt.Errorf("start consumer for %q: %w", r.cfg.Worker.Queue, err)
		}

		r.status.SetReady()
		w := New(session, r.handler, r.cfg.Worker, r.opts...)
		runErr := w.Run(ctx)

		if err := session.Close(); err != nil {
			r.logger.Warn("Failed to close broker session", "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}
		if runErr != nil && !errors.Is(runErr, broker.ErrSessionClosed) {
			r.status.SetUnready(runErr.Error())
			return fmt.Errorf("consume %q: %w", r.cfg.Worker.Queue, runErr)
		}

		r.status.SetUnready("broker session lost")
		r.logger.Warn("Broker session lost, reconnecting", "queue", r.cfg.Worker.Queue, "delay", r.cfg.ReconnectDelay)
		if !sleepFor(ctx, r.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
