package metering

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/types"
)

// ListOrder controls drill-down ordering
type ListOrder string

const (
	ListOrderAsc  ListOrder = "asc"
	ListOrderDesc ListOrder = "desc"
)

// ListParams bounds a reading drill-down query
type ListParams struct {
	CustomerID string
	// MeterKey filters to a single meter when set
	MeterKey string
	Window   types.Window
	Order    ListOrder
	// Limit bounds the result; 0 means no limit
	Limit int
}

// Repository is the aggregated meter reading store.
//
// Upserts within the same window are commutative and associative; readers
// always observe a consistent sum.
type Repository interface {
	// Upsert inserts the reading, or, when a reading exists for the same
	// (customer, meter, window), adds the value to the existing value and
	// merges src_event_ids and metadata. Atomic per row.
	Upsert(ctx context.Context, reading *MeterReading) error

	// UpsertBatch applies the readings with all-or-nothing semantics, so a
	// derivation window never lands partially
	UpsertBatch(ctx context.Context, readings []*MeterReading) error

	// Sum returns the scalar total for one meter over [window.Start, window.End)
	Sum(ctx context.Context, customerID, meterKey string, window types.Window) (decimal.Decimal, error)

	// ByMeter returns per-meter totals for a customer over the window
	ByMeter(ctx context.Context, customerID string, window types.Window) ([]MeterUsage, error)

	// List returns individual readings for drill-down
	List(ctx context.Context, params ListParams) ([]*MeterReading, error)

	// CountSince returns the number of readings for a customer whose
	// window_start is at or after the given instant
	CountSince(ctx context.Context, customerID string, since time.Time) (int64, error)

	// DeleteWindow removes all readings for a customer whose windows fall
	// inside [window.Start, window.End). Used before re-derivation.
	DeleteWindow(ctx context.Context, customerID string, window types.Window) (int64, error)

	// DeleteBefore removes readings whose window_end is before cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
