package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
)

const idempotencyTTL = 24 * time.Hour

type orderPublisher interface {
	Publish(ctx context.Context, payload any, opts ...broker.PublishOption) (broker.Receipt, error)
}

type idempotencyStore interface {
	Reserve(ctx context.Context, key, messageID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key string) error
}

func (app *application) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := readJSONObject(w, r)
	if err != nil {
		app.badRequestResponse(w, err)
		return
	}

	messageID := app.newID()

	key := idempotencyKey(r)
	reserved := false
	if key != "" && app.idempotency != nil {
		existing, ok, err := app.idempotency.Reserve(r.Context(), key, messageID, idempotencyTTL)
		switch {
		case err != nil:
			// Publishing twice is within the at-least-once contract.
			app.logger.Warn("Failed to check idempotency key, publishing anyway", "error", err)
		case !ok:
			app.logger.Info("Order already received", "idempotency_key", key, "message_id", existing)
			err := writeJSON(w, http.StatusOK, envelope{
				"message":    "Order already received",
				"message_id": existing,
			}, nil)
			if err != nil {
				app.logger.Error("Failed to write response", "error", err)
			}
			return
		default:
			reserved = true
		}
	}

	opts := []broker.PublishOption{broker.WithMessageID(messageID)}
	if key != "" {
		opts = append(opts, broker.WithHeader("x-idempotency-key", key))
	}

	receipt, err := app.publisher.Publish(r.Context(), order, opts...)
	if err != nil {
		if reserved {
			// The request context may be gone already.
			if err := app.idempotency.Release(context.WithoutCancel(r.Context()), key); err != nil {
				app.logger.Warn("Failed to release idempotency key", "idempotency_key", key, "error", err)
			}
		}

		var connErr *broker.ConnectionError
		if errors.As(err, &connErr) {
			app.serverErrorResponse(w, r, "Failed to connect to RabbitMQ", err)
			return
		}
		app.serverErrorResponse(w, r, "Failed to process order", err)
		return
	}

	app.logger.Info("Order queued", "message_id", receipt.MessageID, "routing_key", receipt.RoutingKey)

	err = writeJSON(w, http.StatusCreated, envelope{
		"message":    "Order received and queued successfully!",
		"message_id": receipt.MessageID,
	}, nil)
	if err != nil {
		app.logger.Error("Failed to write response", "error", err)
	}
}
