package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/metering"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/types"
)

type MeterReadingRepository struct {
	client *Client
	logger *logger.Logger
}

func NewMeterReadingRepository(client *Client, log *logger.Logger) *MeterReadingRepository {
	return &MeterReadingRepository{client: client, logger: log}
}

// Upsert is a single-statement additive upsert: the conflict arm adds the
// value, dedups the union of provenance ids and merges metadata, so
// concurrent upserts for the same window commute.
func (r *MeterReadingRepository) Upsert(ctx context.Context, reading *metering.MeterReading) error {
	return r.upsertOne(ctx, r.client.DB, reading)
}

// UpsertBatch applies the readings inside one transaction, so a derivation
// window never lands partially.
func (r *MeterReadingRepository) UpsertBatch(ctx context.Context, readings []*metering.MeterReading) error {
	if len(readings) == 0 {
		return nil
	}
	return r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, reading := range readings {
			if err := r.upsertOne(ctx, tx, reading); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *MeterReadingRepository) upsertOne(ctx context.Context, q sqlx.ExtContext, reading *metering.MeterReading) error {
	if err := reading.Validate(); err != nil {
		return err
	}
	srcIDs, err := json.Marshal(orEmptyIDs(reading.SrcEventIDs))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	metadata, err := json.Marshal(orEmptyMetadata(reading.Metadata))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	err = q.QueryRowxContext(ctx, `
		INSERT INTO meter_readings
			(customer_id, meter_key, window_start, window_end, value, src_event_ids, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id, meter_key, window_start) DO UPDATE SET
			value = meter_readings.value + EXCLUDED.value,
			src_event_ids = (
				SELECT COALESCE(jsonb_agg(DISTINCT elem), '[]'::jsonb)
				FROM jsonb_array_elements(meter_readings.src_event_ids || EXCLUDED.src_event_ids) elem
			),
			metadata = meter_readings.metadata || EXCLUDED.metadata
		RETURNING id`,
		reading.CustomerID, reading.MeterKey,
		reading.Window.Start.UTC(), reading.Window.End.UTC(),
		reading.Value, srcIDs, metadata,
	).Scan(&reading.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to upsert reading for %s", reading.MeterKey).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *MeterReadingRepository) Sum(ctx context.Context, customerID, meterKey string, window types.Window) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.client.DB.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(value), 0)
		FROM meter_readings
		WHERE customer_id = $1 AND meter_key = $2
		  AND window_start >= $3 AND window_start < $4`,
		customerID, meterKey, window.Start.UTC(), window.End.UTC(),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, ierr.WithError(err).
			WithHintf("Failed to sum %s", meterKey).
			Mark(ierr.ErrDatabase)
	}
	return total, nil
}

func (r *MeterReadingRepository) ByMeter(ctx context.Context, customerID string, window types.Window) ([]metering.MeterUsage, error) {
	rows, err := r.client.DB.QueryxContext(ctx, `
		SELECT meter_key, SUM(value) AS value
		FROM meter_readings
		WHERE customer_id = $1 AND window_start >= $2 AND window_start < $3
		GROUP BY meter_key
		ORDER BY meter_key`,
		customerID, window.Start.UTC(), window.End.UTC(),
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate readings by meter").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var usage []metering.MeterUsage
	for rows.Next() {
		var u metering.MeterUsage
		if err := rows.Scan(&u.MeterKey, &u.Value); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func (r *MeterReadingRepository) List(ctx context.Context, params metering.ListParams) ([]*metering.MeterReading, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, customer_id, meter_key, window_start, window_end, value, src_event_ids, metadata
		FROM meter_readings
		WHERE customer_id = $1 AND window_start >= $2 AND window_start < $3`)
	args := []any{params.CustomerID, params.Window.Start.UTC(), params.Window.End.UTC()}

	if params.MeterKey != "" {
		args = append(args, params.MeterKey)
		fmt.Fprintf(&sb, " AND meter_key = $%d", len(args))
	}
	if params.Order == metering.ListOrderDesc {
		sb.WriteString(" ORDER BY window_start DESC, meter_key")
	} else {
		sb.WriteString(" ORDER BY window_start ASC, meter_key")
	}
	if params.Limit > 0 {
		args = append(args, params.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.client.DB.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list readings").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var readings []*metering.MeterReading
	for rows.Next() {
		var (
			reading  metering.MeterReading
			srcIDs   []byte
			metadata []byte
		)
		if err := rows.Scan(&reading.ID, &reading.CustomerID, &reading.MeterKey,
			&reading.Window.Start, &reading.Window.End, &reading.Value,
			&srcIDs, &metadata); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if err := json.Unmarshal(srcIDs, &reading.SrcEventIDs); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if err := json.Unmarshal(metadata, &reading.Metadata); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		readings = append(readings, &reading)
	}
	return readings, rows.Err()
}

func (r *MeterReadingRepository) CountSince(ctx context.Context, customerID string, since time.Time) (int64, error) {
	var count int64
	err := r.client.DB.QueryRowxContext(ctx, `
		SELECT COUNT(*) FROM meter_readings
		WHERE customer_id = $1 AND window_start >= $2`,
		customerID, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (r *MeterReadingRepository) DeleteWindow(ctx context.Context, customerID string, window types.Window) (int64, error) {
	res, err := r.client.DB.ExecContext(ctx, `
		DELETE FROM meter_readings
		WHERE customer_id = $1 AND window_start >= $2 AND window_start < $3`,
		customerID, window.Start.UTC(), window.End.UTC(),
	)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to delete readings for reprocessing").
			Mark(ierr.ErrDatabase)
	}
	return res.RowsAffected()
}

func (r *MeterReadingRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.client.DB.ExecContext(ctx,
		`DELETE FROM meter_readings WHERE window_end < $1`, cutoff.UTC())
	if err != nil {
		return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return res.RowsAffected()
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func orEmptyMetadata(m types.Metadata) types.Metadata {
	if m == nil {
		return types.Metadata{}
	}
	return m
}
