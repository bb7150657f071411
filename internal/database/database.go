// Package database provides functions for connecting to and migrating the
// postgres database.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/config"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

func NewConnection(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	c, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	c.SetMaxOpenConns(10)
	c.SetConnMaxIdleTime(5 * time.Minute)

	if err := c.PingContext(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return c, nil
}

// Migrate creates the tables the consumers use. It is safe to run on every
// start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
