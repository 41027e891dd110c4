package postgres

import (
	"context"
	_ "embed"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kachi-io/kachi/internal/config"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// Client wraps the sqlx connection pool
type Client struct {
	DB     *sqlx.DB
	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			Mark(ierr.ErrDatabase)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)

	return &Client{DB: db, logger: log}, nil
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schemaSQL); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to apply database schema").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error
func (c *Client) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// AcquireCustomerLock takes a transaction-scoped advisory lock keyed on the
// customer id. Concurrent rating passes for the same customer serialize on
// this lock; the lock releases with the transaction.
func AcquireCustomerLock(ctx context.Context, tx *sqlx.Tx, customerID string) error {
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, customerID); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to lock customer %s", customerID).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}
