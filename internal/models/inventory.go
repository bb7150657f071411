package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyProcessed  = errors.New("message already processed")
	errMissingMessageID  = errors.New("message id can't be empty")
	errNilDB             = errors.New("models: DB can't be nil")
)

// StockItem is one row of the inventory table.
type StockItem struct {
	Product   string    `json:"product"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryModel is a wrapper for the database connection.
type InventoryModel struct {
	DB *sql.DB
}

// Seed creates product with quantity in stock. An existing row is left
// alone and Seed reports false.
func (m InventoryModel) Seed(ctx context.Context, product string, quantity int) (bool, error) {
	if m.DB == nil {
		return false, errNilDB
	}
	res, err := m.DB.ExecContext(ctx, `
		INSERT INTO inventory (product, quantity, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (product) DO NOTHING`,
		product, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed inventory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get gets the stock row for product.
func (m InventoryModel) Get(ctx context.Context, product string) (*StockItem, error) {
	if m.DB == nil {
		return nil, errNilDB
	}

	var item StockItem
	err := m.DB.QueryRowContext(ctx,
		`SELECT product, quantity, updated_at FROM inventory WHERE product = $1`,
		product,
	).Scan(&item.Product, &item.Quantity, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownProduct
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Apply takes the event's quantity out of stock once per messageID and
// queue. A message seen before returns ErrAlreadyProcessed and leaves stock
// untouched.
func (m InventoryModel) Apply(ctx context.Context, queue, messageID string, e OrderEvent) error {
	if m.DB == nil {
		return errNilDB
	}
	if messageID == "" {
		return errMissingMessageID
	}
	if err := e.CheckStock(); err != nil {
		return err
	}
	quantity, _ := e.Quantity.Int()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted, err := markProcessed(ctx, tx, queue, messageID)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyProcessed
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory SET quantity = quantity - $2, updated_at = NOW()
		WHERE product = $1 AND quantity >= $2`,
		string(e.Product), quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM inventory WHERE product = $1)`, string(e.Product),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %q", ErrUnknownProduct, e.Product)
		}
		return fmt.Errorf("%w: %q needs %d", ErrInsufficientStock, e.Product, quantity)
	}

	return tx.Commit()
}
