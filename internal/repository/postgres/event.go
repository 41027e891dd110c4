package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kachi-io/kachi/internal/domain/events"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

type EventRepository struct {
	client *Client
	logger *logger.Logger
}

func NewEventRepository(client *Client, log *logger.Logger) *EventRepository {
	return &EventRepository{client: client, logger: log}
}

func (r *EventRepository) Append(ctx context.Context, event *events.RawEvent) error {
	return r.appendOne(ctx, r.client.DB, event)
}

// AppendBatch commits the batch in one transaction. On store contention the
// batch is retried in halves, so a hot partition degrades to smaller commits
// instead of failing the export.
func (r *EventRepository) AppendBatch(ctx context.Context, batch []*events.RawEvent) error {
	return appendHalving(ctx, batch, r.appendAll)
}

func (r *EventRepository) appendAll(ctx context.Context, batch []*events.RawEvent) error {
	return r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, event := range batch {
			if err := r.appendOne(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// appendHalving retries a contended commit by splitting the batch in half
// until single events remain, which fail through to the caller.
func appendHalving(ctx context.Context, batch []*events.RawEvent, commit func(context.Context, []*events.RawEvent) error) error {
	if len(batch) == 0 {
		return nil
	}
	err := commit(ctx, batch)
	if err == nil {
		return nil
	}
	if !isContention(err) || len(batch) == 1 {
		return err
	}
	mid := len(batch) / 2
	if err := appendHalving(ctx, batch[:mid], commit); err != nil {
		return err
	}
	return appendHalving(ctx, batch[mid:], commit)
}

// isContention reports whether err is a serialization failure or deadlock,
// the retryable contention classes.
func isContention(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func (r *EventRepository) appendOne(ctx context.Context, q sqlx.ExtContext, event *events.RawEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode event payload").
			Mark(ierr.ErrValidation)
	}

	err = q.QueryRowxContext(ctx, `
		INSERT INTO raw_events (customer_id, ts, event_type, trace_id, span_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trace_id, span_id, event_type, ts) DO NOTHING
		RETURNING id`,
		event.CustomerID, event.TS.UTC(), event.EventType,
		event.TraceID, event.SpanID, payload,
	).Scan(&event.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHint("Failed to append event").
			Mark(ierr.ErrDatabase)
	}

	// duplicate append: resolve the id of the winning row
	err = q.QueryRowxContext(ctx, `
		SELECT id FROM raw_events
		WHERE trace_id = $1 AND span_id = $2 AND event_type = $3 AND ts = $4`,
		event.TraceID, event.SpanID, event.EventType, event.TS.UTC(),
	).Scan(&event.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to resolve duplicate event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *EventRepository) Scan(ctx context.Context, params events.ScanParams) ([]*events.RawEvent, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, customer_id, ts, event_type, trace_id, span_id, payload
		FROM raw_events WHERE 1=1`)
	var args []any

	if params.CustomerID != "" {
		args = append(args, params.CustomerID)
		fmt.Fprintf(&sb, " AND customer_id = $%d", len(args))
	}
	if params.From != nil {
		args = append(args, params.From.UTC())
		fmt.Fprintf(&sb, " AND ts >= $%d", len(args))
	}
	if params.To != nil {
		args = append(args, params.To.UTC())
		fmt.Fprintf(&sb, " AND ts < $%d", len(args))
	}
	sb.WriteString(" ORDER BY ts ASC, id ASC")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.client.DB.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan events").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*events.RawEvent
	for rows.Next() {
		var (
			event   events.RawEvent
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.CustomerID, &event.TS,
			&event.EventType, &event.TraceID, &event.SpanID, &payload); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read event row").
				Mark(ierr.ErrDatabase)
		}
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Corrupt payload on event %d", event.ID).
				Mark(ierr.ErrDatabase)
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

func (r *EventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.client.DB.ExecContext(ctx,
		`DELETE FROM raw_events WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to delete expired events").
			Mark(ierr.ErrDatabase)
	}
	return res.RowsAffected()
}
