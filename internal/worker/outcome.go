package worker

import (
	"context"
	"errors"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
)

// Outcome is how a delivery is settled with the broker.
type Outcome int

const (
	Ack Outcome = iota + 1
	RejectRequeue
	RejectDiscard
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case RejectRequeue:
		return "reject-requeue"
	case RejectDiscard:
		return "reject-discard"
	case DeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that retrying cannot fix. The message is
// dead-lettered on the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy turns a processing result into an Outcome.
type Policy struct {
	// MaxAttempts is how many times a transiently failing message is
	// handled before it is parked.
	MaxAttempts int

	// DeadLetter is true when a dead-letter queue exists. Without one,
	// parked messages are discarded.
	DeadLetter bool
}

// Retryable reports whether err is a transient handler failure, the only
// kind that consumes attempts.
func (p Policy) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || IsPermanent(err) {
		return false
	}
	var se *broker.SerializationError
	return !errors.As(err, &se)
}

// Decide returns the outcome for err after attempts handler failures,
// including this one.
func (p Policy) Decide(err error, attempts int) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, context.Canceled):
		return RejectRequeue
	case !p.Retryable(err):
		return p.park()
	case attempts < p.MaxAttempts:
		return RejectRequeue
	default:
		return p.park()
	}
}

func (p Policy) park() Outcome {
	if p.DeadLetter {
		return DeadLetter
	}
	return RejectDiscard
}
