package costledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// CostRecord is one realized cost entry. The ledger is append-only; it is
// never aggregated or overwritten in place, aggregation belongs to the COGS
// calculator.
type CostRecord struct {
	ID            int64           `db:"id" json:"id"`
	WorkflowRunID string          `db:"workflow_run_id" json:"workflow_run_id,omitempty"`
	TS            time.Time       `db:"ts" json:"ts"`
	CostAmount    decimal.Decimal `db:"cost_amount" json:"cost_amount"`
	CostType      types.CostType  `db:"cost_type" json:"cost_type"`
	Details       map[string]any  `json:"details,omitempty"`
}

// Validate checks the record before it is appended
func (r *CostRecord) Validate() error {
	if r.CostAmount.IsNegative() {
		return ierr.NewErrorf("negative cost amount %s", r.CostAmount).
			WithHint("Cost amounts must be non-negative").
			Mark(ierr.ErrValidation)
	}
	if r.CostType == "" {
		return ierr.NewError("cost_type is required").
			WithHint("Cost records must carry a cost type").
			Mark(ierr.ErrValidation)
	}
	if r.TS.IsZero() {
		return ierr.NewError("cost record timestamp is required").
			WithHint("Cost records must carry a timestamp").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Filter bounds a ledger read. Zero-valued fields are ignored.
type Filter struct {
	// WorkflowRunIDs filters to records joined to any of the given runs
	WorkflowRunIDs []string
	// TSRange filters to records with ts in [Start, End)
	TSRange *types.Window
	// CostTypes filters to records of any of the given types
	CostTypes []types.CostType
}

type Repository interface {
	// Append adds a record to the ledger and populates its ID
	Append(ctx context.Context, record *CostRecord) error

	// List returns records matching the filter ordered by (ts, id)
	List(ctx context.Context, filter Filter) ([]*CostRecord, error)
}
