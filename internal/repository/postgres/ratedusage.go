package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/types"
)

type RatedUsageRepository struct {
	client *Client
	logger *logger.Logger
}

func NewRatedUsageRepository(client *Client, log *logger.Logger) *RatedUsageRepository {
	return &RatedUsageRepository{client: client, logger: log}
}

// Upsert replaces the rated usage for (customer, period). Re-rating resets
// external_pushed_at because the exported amounts may have changed. The write
// happens under the customer advisory lock so concurrent re-ratings of the
// same customer serialize instead of interleaving.
func (r *RatedUsageRepository) Upsert(ctx context.Context, ru *ratedusage.RatedUsage) error {
	lines, err := json.Marshal(ru.Lines)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	envelopes, err := json.Marshal(ru.Envelopes)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	return r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := AcquireCustomerLock(ctx, tx, ru.CustomerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rated_usage
				(id, customer_id, period_start, period_end, lines, envelopes,
				 subtotal, discount, total, cogs, margin, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (customer_id, period_start, period_end) DO UPDATE SET
				lines = EXCLUDED.lines,
				envelopes = EXCLUDED.envelopes,
				subtotal = EXCLUDED.subtotal,
				discount = EXCLUDED.discount,
				total = EXCLUDED.total,
				cogs = EXCLUDED.cogs,
				margin = EXCLUDED.margin,
				external_pushed_at = NULL,
				updated_at = EXCLUDED.updated_at`,
			ru.ID, ru.CustomerID, ru.Period.Start.UTC(), ru.Period.End.UTC(),
			lines, envelopes, ru.Subtotal, ru.Discount, ru.Total, ru.COGS, ru.Margin,
			ru.CreatedAt, time.Now().UTC(),
		)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to upsert rated usage").
				Mark(ierr.ErrDatabase)
		}
		return nil
	})
}

func (r *RatedUsageRepository) Get(ctx context.Context, customerID string, period types.Window) (*ratedusage.RatedUsage, error) {
	ru, err := r.scanRatedUsage(r.client.DB.QueryRowxContext(ctx, `
		SELECT id, customer_id, period_start, period_end, lines, envelopes,
		       subtotal, discount, total, cogs, margin, external_pushed_at,
		       created_at, updated_at
		FROM rated_usage
		WHERE customer_id = $1 AND period_start = $2 AND period_end = $3`,
		customerID, period.Start.UTC(), period.End.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("no rated usage for %s in period", customerID).
			Mark(ierr.ErrNotFound)
	}
	return ru, err
}

func (r *RatedUsageRepository) List(ctx context.Context, customerID string, limit int) ([]*ratedusage.RatedUsage, error) {
	query := `
		SELECT id, customer_id, period_start, period_end, lines, envelopes,
		       subtotal, discount, total, cogs, margin, external_pushed_at,
		       created_at, updated_at
		FROM rated_usage WHERE customer_id = $1
		ORDER BY period_start DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.client.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*ratedusage.RatedUsage
	for rows.Next() {
		ru, err := r.scanRatedUsage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ru)
	}
	return result, rows.Err()
}

func (r *RatedUsageRepository) MarkPushed(ctx context.Context, id string, pushedAt time.Time) error {
	res, err := r.client.DB.ExecContext(ctx, `
		UPDATE rated_usage SET external_pushed_at = $2, updated_at = $3 WHERE id = $1`,
		id, pushedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewErrorf("rated usage %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *RatedUsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.client.DB.ExecContext(ctx,
		`DELETE FROM rated_usage WHERE period_end < $1`, cutoff.UTC())
	if err != nil {
		return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return res.RowsAffected()
}

func (r *RatedUsageRepository) scanRatedUsage(row rowScanner) (*ratedusage.RatedUsage, error) {
	var (
		ru        ratedusage.RatedUsage
		lines     []byte
		envelopes []byte
		pushedAt  sql.NullTime
	)
	err := row.Scan(&ru.ID, &ru.CustomerID, &ru.Period.Start, &ru.Period.End,
		&lines, &envelopes, &ru.Subtotal, &ru.Discount, &ru.Total, &ru.COGS,
		&ru.Margin, &pushedAt, &ru.CreatedAt, &ru.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if pushedAt.Valid {
		t := pushedAt.Time
		ru.ExternalPushedAt = &t
	}
	if err := json.Unmarshal(lines, &ru.Lines); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if err := json.Unmarshal(envelopes, &ru.Envelopes); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &ru, nil
}
