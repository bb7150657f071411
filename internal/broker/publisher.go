package broker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// PublishSession is what a Publisher needs from a session.
type PublishSession interface {
	Declare(t Topology, queues ...QueueDescriptor) error
	Publish(ctx context.Context, m Message) error
	Close() error
}

type PublisherConfig struct {
	Topology Topology

	// Queues are declared before every publish. The first one names the
	// route when the topology has no exchange.
	Queues []QueueDescriptor

	Codec   Codec
	Confirm bool
	AppID   string
}

// Receipt identifies an accepted message.
type Receipt struct {
	MessageID  string `json:"message_id"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key"`
}

// Publisher sends single messages. Each call opens its own connection and
// session and releases both before returning, so concurrent calls share no
// broker state.
type Publisher struct {
	cfg    PublisherConfig
	open   func(ctx context.Context) (PublishSession, error)
	logger *slog.Logger
}

func NewPublisher(connector *Connector, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if cfg.Codec == nil {
		cfg.Codec = JSON
	}

	p := &Publisher{cfg: cfg, logger: logger}
	p.open = func(ctx context.Context) (PublishSession, error) {
		conn, err := connector.Connect(ctx)
		if err != nil {
			return nil, err
		}
		session, err := OpenSession(conn, SessionOptions{Confirm: cfg.Confirm, AppID: cfg.AppID, Logger: logger})
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return p
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	messageID string
	headers   map[string]any
}

// WithMessageID sets the message ID instead of generating one.
func WithMessageID(id string) PublishOption {
	return func(o *publishOptions) { o.messageID = id }
}

// WithHeader adds an application header.
func WithHeader(key string, value any) PublishOption {
	return func(o *publishOptions) {
		if o.headers == nil {
			o.headers = map[string]any{}
		}
		o.headers[key] = value
	}
}

// Publish serializes payload and enqueues it durably. It returns once the
// broker has accepted the message; it never waits for a consumer. Closing
// the session afterwards is best effort and only logged.
func (p *Publisher) Publish(ctx context.Context, payload any, opts ...PublishOption) (Receipt, error) {
	if len(p.cfg.Queues) == 0 {
		return Receipt{}, errors.New("publisher has no queues configured")
	}

	o := publishOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.messageID == "" {
		o.messageID = uuid.NewString()
	}

	body, err := p.cfg.Codec.Marshal(payload)
	if err != nil {
		return Receipt{}, &SerializationError{ContentType: p.cfg.Codec.ContentType(), Err: err}
	}

	session, err := p.open(ctx)
	if err != nil {
		return Receipt{}, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Warn("Failed to close broker session", "error", err)
		}
	}()

	if err := session.Declare(p.cfg.Topology, p.cfg.Queues...); err != nil {
		return Receipt{}, err
	}

	exchange, key := p.cfg.Topology.Route(p.cfg.Queues[0].Name)
	msg := Message{
		Exchange:    exchange,
		RoutingKey:  key,
		ContentType: p.cfg.Codec.ContentType(),
		MessageID:   o.messageID,
		Headers:     o.headers,
		Body:        body,
	}
	if err := session.Publish(ctx, msg); err != nil {
		return Receipt{}, err
	}

	return Receipt{MessageID: o.messageID, Exchange: exchange, RoutingKey: key}, nil
}
