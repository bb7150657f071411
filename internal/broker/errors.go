package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxRetriesExceeded is matched by a ConnectionError whose attempt
	// budget ran out.
	ErrMaxRetriesExceeded = errors.New("max connection retries exceeded")

	// ErrSessionClosed is returned once a session's channel or connection
	// has gone away.
	ErrSessionClosed = errors.New("broker session closed")

	// ErrPublishNacked is returned when the broker refuses a confirmed publish.
	ErrPublishNacked = errors.New("publish nacked by broker")
)

// ConnectionErrorKind says why the connector gave up.
type ConnectionErrorKind int

const (
	MaxRetriesExceeded ConnectionErrorKind = iota + 1
	Canceled
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case MaxRetriesExceeded:
		return "max retries exceeded"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ConnectionError is returned when no connection could be established.
type ConnectionError struct {
	Kind     ConnectionErrorKind
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to broker: %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded && e.Kind == MaxRetriesExceeded
}

// DeclarationError reports a queue or exchange that could not be declared,
// typically because it already exists with different properties.
type DeclarationError struct {
	Queue string
	Err   error
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("declare %q: %v", e.Queue, e.Err)
}

func (e *DeclarationError) Unwrap() error { return e.Err }

// SerializationError reports a body that could not be encoded or decoded.
type SerializationError struct {
	ContentType string
	Err         error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s: %v", e.ContentType, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PublishError reports a transport failure while sending.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// HandlerError wraps a failure returned (or a panic raised) by a consumer
// handler.
type HandlerError struct {
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle message %q: %v", e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
