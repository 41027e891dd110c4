package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kachi-io/kachi/internal/domain/customer"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

type CustomerRepository struct {
	client *Client
	logger *logger.Logger
}

func NewCustomerRepository(client *Client, log *logger.Logger) *CustomerRepository {
	return &CustomerRepository{client: client, logger: log}
}

func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	_, err := r.client.DB.ExecContext(ctx, `
		INSERT INTO customers (id, display_name, currency, external_billing_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.DisplayName, c.Currency, c.ExternalBillingID, c.Active,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewErrorf("customer %s already exists", c.ID).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create customer").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *CustomerRepository) Get(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.client.DB.QueryRowxContext(ctx, `
		SELECT id, display_name, currency, external_billing_id, active, created_at, updated_at
		FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.DisplayName, &c.Currency, &c.ExternalBillingID, &c.Active,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("customer %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &c, nil
}

func (r *CustomerRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.client.DB.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return exists, nil
}

func (r *CustomerRepository) ListActive(ctx context.Context) ([]*customer.Customer, error) {
	rows, err := r.client.DB.QueryxContext(ctx, `
		SELECT id, display_name, currency, external_billing_id, active, created_at, updated_at
		FROM customers WHERE active ORDER BY id`)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*customer.Customer
	for rows.Next() {
		var c customer.Customer
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Currency, &c.ExternalBillingID,
			&c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (r *CustomerRepository) Update(ctx context.Context, c *customer.Customer) error {
	res, err := r.client.DB.ExecContext(ctx, `
		UPDATE customers
		SET display_name = $2, currency = $3, external_billing_id = $4, active = $5, updated_at = $6
		WHERE id = $1`,
		c.ID, c.DisplayName, c.Currency, c.ExternalBillingID, c.Active, time.Now().UTC(),
	)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewErrorf("customer %s not found", c.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}
