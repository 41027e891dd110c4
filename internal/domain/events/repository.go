package events

import (
	"context"
	"time"
)

// ScanParams bounds an event scan. Results are ordered by (ts, id) ascending.
type ScanParams struct {
	// CustomerID filters to a single customer when set
	CustomerID string
	// From is the inclusive lower bound on ts
	From *time.Time
	// To is the exclusive upper bound on ts
	To *time.Time
	// Limit bounds the number of returned events; 0 means no limit
	Limit int
}

// Repository is the append-only raw event store.
type Repository interface {
	// Append inserts the event exactly once. A duplicate
	// (trace_id, span_id, event_type, ts) tuple is an idempotent no-op;
	// on success the event's ID is populated.
	Append(ctx context.Context, event *RawEvent) error

	// AppendBatch appends events in order, preserving per-trace ordering
	// within the batch. Duplicates are skipped, not errors.
	AppendBatch(ctx context.Context, events []*RawEvent) error

	// Scan returns events matching params ordered by (ts, id) ascending
	Scan(ctx context.Context, params ScanParams) ([]*RawEvent, error)

	// DeleteBefore removes events with ts < cutoff and returns the count.
	// Safe against concurrent scans over later timestamps.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
