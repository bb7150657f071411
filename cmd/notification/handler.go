package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/worker"
)

type notificationStore interface {
	Insert(ctx context.Context, messageID string, e models.OrderEvent) error
	Get(ctx context.Context, messageID string) (*models.Notification, error)
}

type handler struct {
	notifications notificationStore
	logger        *slog.Logger
}

func (h *handler) HandleOrder(ctx context.Context, msg worker.Message) error {
	order := msg.Event

	if h.notifications != nil {
		if err := order.CheckNotification(); err != nil {
			return worker.Permanent(err)
		}
		if msg.ID == "" {
			return worker.Permanent(errors.New("message has no id to deduplicate on"))
		}

		err := h.notifications.Insert(ctx, msg.ID, order)
		if errors.Is(err, models.ErrAlreadyProcessed) {
			h.logDuplicate(ctx, msg.ID)
			return nil
		}
		if err != nil {
			return err
		}
	}

	h.logger.Info("Notification sent for order",
		"product", order.Product,
		"customer", order.Customer,
		"message_id", msg.ID,
	)
	return nil
}

func (h *handler) logDuplicate(ctx context.Context, messageID string) {
	sent, err := h.notifications.Get(ctx, messageID)
	if err != nil {
		h.logger.Warn("Notification already sent, skipping", "message_id", messageID, "lookup_error", err)
		return
	}
	h.logger.Info("Notification already sent, skipping",
		"message_id", messageID,
		"customer", sent.Customer,
		"sent_at", sent.CreatedAt,
	)
}
