package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/database"
)

// Notification is a sent order notification.
type Notification struct {
	MessageID string    `json:"message_id"`
	Customer  string    `json:"customer"`
	Product   string    `json:"product"`
	Quantity  float64   `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationModel is a wrapper for the database connection.
type NotificationModel struct {
	DB *sql.DB
}

// Insert records a notification for messageID. It returns
// ErrAlreadyProcessed when one was recorded before.
func (m NotificationModel) Insert(ctx context.Context, messageID string, e OrderEvent) error {
	if m.DB == nil {
		return errNilDB
	}
	if messageID == "" {
		return errMissingMessageID
	}

	_, err := m.DB.ExecContext(ctx,
		`INSERT INTO notifications (message_id, customer, product, quantity, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		messageID, string(e.Customer), string(e.Product), float64(e.Quantity),
	)
	if database.IsUniqueViolation(err) {
		return ErrAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// Get gets a notification from the database.
func (m NotificationModel) Get(ctx context.Context, messageID string) (*Notification, error) {
	if m.DB == nil {
		return nil, errNilDB
	}

	var n Notification
	err := m.DB.QueryRowContext(ctx,
		`SELECT message_id, customer, product, quantity, created_at FROM notifications WHERE message_id = $1`,
		messageID,
	).Scan(&n.MessageID, &n.Customer, &n.Product, &n.Quantity, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
