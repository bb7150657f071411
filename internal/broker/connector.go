package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 5 * time.Second
)

// RetryPolicy bounds connection attempts. Attempts are separated by a fixed
// Delay: no jitter, no backoff.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxRetries, Delay: DefaultRetryDelay}
}

// DialFunc opens one AMQP connection. It must give up when ctx is done.
type DialFunc func(ctx context.Context, url string) (*amqp.Connection, error)

// Connector establishes broker connections with a bounded retry loop. It
// holds no state between calls, so one Connector may serve concurrent
// requests.
type Connector struct {
	url            string
	policy         RetryPolicy
	dial           DialFunc
	sleep          func(context.Context, time.Duration) error
	logger         *slog.Logger
	connectTimeout time.Duration
	connectionName string
}

type ConnectorOption func(*Connector)

// WithDialer replaces amqp.DialConfig.
func WithDialer(dial DialFunc) ConnectorOption {
	return func(c *Connector) { c.dial = dial }
}

// WithSleep replaces the timer used between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) ConnectorOption {
	return func(c *Connector) { c.sleep = sleep }
}

func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = logger }
}

// WithConnectTimeout bounds each dial attempt.
func WithConnectTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.connectTimeout = d }
}

// WithConnectionName labels connections in the broker management UI.
func WithConnectionName(name string) ConnectorOption {
	return func(c *Connector) { c.connectionName = name }
}

func NewConnector(url string, policy RetryPolicy, opts ...ConnectorOption) *Connector {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	c := &Connector{
		url:    url,
		policy: policy,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = c.dialConfig
	}
	return c
}

// Connect dials until a connection is obtained or the attempt budget runs
// out. Every failed attempt is logged once. The last failure is never
// followed by a delay.
func (c *Connector) Connect(ctx context.Context) (*amqp.Connection, error) {
	host := redactedHost(c.url)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Kind: Canceled, Attempts: attempt - 1, Err: errors.Join(err, lastErr)}
		}

		conn, err := c.dial(ctx, c.url)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("Connected to RabbitMQ", "host", host, "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err

		c.logger.Error("Failed to connect to RabbitMQ",
			"host", host,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"error", err,
		)

		if attempt >= c.policy.MaxAttempts {
			return nil, &ConnectionError{Kind: MaxRetriesExceeded, Attempts: attempt, Err: lastErr}
		}

		if err := c.sleep(ctx, c.policy.Delay); err != nil {
			return nil, &ConnectionError{Kind: Canceled, Attempts: attempt, Err: errors.Join(err, lastErr)}
		}
	}
}

func (c *Connector) dialConfig(ctx context.Context, url string) (*amqp.Connection, error) {
	// Set once the TCP connection exists; aborts the handshake on cancel.
	var stop func() bool

	cfg := amqp.Config{
		Locale: "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: c.connectTimeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if c.connectTimeout > 0 {
				if err := conn.SetDeadline(time.Now().Add(c.connectTimeout)); err != nil {
					conn.Close()
					return nil, err
				}
			}
			stop = context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
			return conn, nil
		},
	}
	if c.connectionName != "" {
		cfg.Properties = amqp.Table{"connection_name": c.connectionName}
	}

	conn, err := amqp.DialConfig(url, cfg)
	if stop != nil && !stop() && err == nil {
		// Canceled after the handshake finished; the deadline may have
		// poisoned the socket.
		conn.Close()
		return nil, ctx.Err()
	}
	return conn, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redactedHost keeps credentials out of the logs.
func redactedHost(url string) string {
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return "invalid-url"
	}
	return uri.Host
}
