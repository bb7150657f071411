package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/worker"
)

type stockStore interface {
	Apply(ctx context.Context, queue, messageID string, e models.OrderEvent) error
}

type handler struct {
	// stock is nil when no database is configured; orders are then only
	// logged.
	stock  stockStore
	logger *slog.Logger
}

var errNoMessageID = errors.New("message has no id to deduplicate on")

func (h *handler) HandleOrder(ctx context.Context, msg worker.Message) error {
	order := msg.Event

	if h.stock != nil {
		if err := order.CheckStock(); err != nil {
			return worker.Permanent(err)
		}
		if msg.ID == "" {
			return worker.Permanent(errNoMessageID)
		}

		err := h.stock.Apply(ctx, msg.Queue, msg.ID, order)
		switch {
		case errors.Is(err, models.ErrAlreadyProcessed):
			h.logger.Info("Order already applied, skipping", "message_id", msg.ID)
			return nil
		case errors.Is(err, models.ErrUnknownProduct), errors.Is(err, models.ErrInsufficientStock):
			return worker.Permanent(err)
		case err != nil:
			return err
		}
	}

	h.logger.Info("Inventory updated for order",
		"product", order.Product,
		"quantity", order.Quantity,
		"message_id", msg.ID,
	)
	return nil
}
