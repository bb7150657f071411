package models

import (
	"context"
	"database/sql"
	"fmt"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func markProcessed(ctx context.Context, db execer, queue, messageID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, queue, processed_at) VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING`,
		messageID, queue,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
