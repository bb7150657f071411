// Package broker wraps the amqp client: bounded-retry connection
// establishment, durable queue declaration, persistent publishing and
// manually acknowledged consumption.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel a Session uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

type SessionOptions struct {
	// Prefetch limits unacknowledged deliveries. Zero keeps the broker
	// default.
	Prefetch int

	// Confirm puts the channel in confirm mode so Publish waits for the
	// broker to accept each message.
	Confirm bool

	AppID  string
	Logger *slog.Logger
}

// Message is an outgoing message. Every message is published persistent.
type Message struct {
	Exchange    string
	RoutingKey  string
	ContentType string
	MessageID   string
	Headers     amqp.Table
	Body        []byte
}

// Session is one channel over one connection. The session owns both and
// releases both on Close. A Session is not safe for concurrent use.
type Session struct {
	conn   io.Closer
	ch     Channel
	appID  string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenSession opens a channel on conn. The session takes ownership of conn:
// it is closed on failure here or by Session.Close.
func OpenSession(conn *amqp.Connection, opts SessionOptions) (*Session, error) {
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return newSession(conn, ch, opts)
}

func newSession(conn io.Closer, ch Channel, opts SessionOptions) (*Session, error) {
	s := &Session{
		conn:   conn,
		ch:     ch,
		appID:  opts.AppID,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	if opts.Confirm {
		if err := ch.Confirm(false); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	return s, nil
}

// DeclareQueue declares q durably, plus its dead-letter queue if any.
func (s *Session) DeclareQueue(q QueueDescriptor) error {
	if q.DeadLetterQueue != "" {
		if _, err := s.ch.QueueDeclare(
			q.DeadLetterQueue, // name
			true,              // durable
			false,             // delete when unused
			false,             // exclusive
			false,             // no-wait
			nil,               // arguments
		); err != nil {
			return &DeclarationError{Queue: q.DeadLetterQueue, Err: err}
		}
	}

	if _, err := s.ch.QueueDeclare(
		q.Name,    // name
		q.Durable, // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		return &DeclarationError{Queue: q.Name, Err: err}
	}

	return nil
}

// Declare declares the topology exchange (if any) and every queue, binding
// each queue to the exchange.
func (s *Session) Declare(t Topology, queues ...QueueDescriptor) error {
	if t.Exchange != "" {
		err := s.ch.ExchangeDeclare(
			t.Exchange, // name
			t.kind(),   // type
			true,       // durable
			false,      // auto-deleted
			false,      // internal
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			return &DeclarationError{Queue: t.Exchange, Err: err}
		}
	}

	for _, q := range queues {
		if err := s.DeclareQueue(q); err != nil {
			return err
		}
		if t.Exchange == "" {
			continue
		}
		if err := s.ch.QueueBind(
			q.Name,       // queue name
			t.RoutingKey, // routing key
			t.Exchange,   // exchange
			false,        // no-wait
			nil,          // args
		); err != nil {
			return &DeclarationError{Queue: q.Name, Err: fmt.Errorf("bind to %q: %w", t.Exchange, err)}
		}
	}

	return nil
}

// Publish sends m marked persistent. In confirm mode it returns once the
// broker has acknowledged the message.
func (s *Session) Publish(ctx context.Context, m Message) error {
	target := m.RoutingKey
	if m.Exchange != "" {
		target = m.Exchange + "/" + m.RoutingKey
	}

	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx,
		m.Exchange,   // exchange
		m.RoutingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			Headers:      m.Headers,
			ContentType:  m.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    m.MessageID,
			Timestamp:    time.Now().UTC(),
			AppId:        s.appID,
			Body:         m.Body,
		},
	)
	if err != nil {
		return &PublishError{Queue: target, Err: closedErr(err)}
	}

	// nil unless the channel is in confirm mode.
	if dc == nil {
		return nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return &PublishError{Queue: target, Err: closedErr(err)}
	}
	if !acked {
		return &PublishError{Queue: target, Err: ErrPublishNacked}
	}
	return nil
}

// Consume subscribes to queue with manual acknowledgement.
func (s *Session) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	d, err := s.ch.Consume(
		queue,       // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", closedErr(err))
	}
	return d, nil
}

// Cancel stops deliveries to consumerTag. Deliveries already received can
// still be acknowledged until the session is closed.
func (s *Session) Cancel(consumerTag string) error {
	if err := s.ch.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer: %w", closedErr(err))
	}
	return nil
}

// Close releases the channel and the connection. It is safe to call more
// than once; connections already closed by the broker are not an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, fmt.Errorf("close connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func closedErr(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return errors.Join(ErrSessionClosed, err)
	}
	return err
}
