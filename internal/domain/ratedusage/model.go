package ratedusage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/types"
)

// RatedUsage is the persisted output of one rating pass, unique per
// (customer, period). Re-rating the same period replaces the row.
type RatedUsage struct {
	ID         string       `db:"id" json:"id"`
	CustomerID string       `db:"customer_id" json:"customer_id"`
	Period     types.Window `json:"period"`

	Lines     []rating.RatedLine                    `json:"lines"`
	Envelopes map[string]*rating.EnvelopeAllocation `json:"envelopes,omitempty"`

	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount decimal.Decimal `db:"discount" json:"discount"`
	Total    decimal.Decimal `db:"total" json:"total"`
	COGS     decimal.Decimal `db:"cogs" json:"cogs"`
	Margin   decimal.Decimal `db:"margin" json:"margin"`

	// ExternalPushedAt is set once the rated period has been exported to the
	// external billing provider
	ExternalPushedAt *time.Time `db:"external_pushed_at" json:"external_pushed_at,omitempty"`

	types.BaseModel
}

// FromResult builds a RatedUsage row from a rating result
func FromResult(id string, result *rating.Result) *RatedUsage {
	return &RatedUsage{
		ID:         id,
		CustomerID: result.CustomerID,
		Period:     result.Period,
		Lines:      result.Lines,
		Envelopes:  result.Envelopes,
		Subtotal:   result.Subtotal,
		Discount:   result.Discount,
		Total:      result.Total,
		COGS:       result.COGS,
		Margin:     result.Margin,
		BaseModel:  types.GetDefaultBaseModel(),
	}
}

type Repository interface {
	// Upsert writes the rated usage for (customer_id, period), replacing any
	// prior row for the same key
	Upsert(ctx context.Context, ru *RatedUsage) error

	Get(ctx context.Context, customerID string, period types.Window) (*RatedUsage, error)

	List(ctx context.Context, customerID string, limit int) ([]*RatedUsage, error)

	// MarkPushed stamps external_pushed_at after a successful export
	MarkPushed(ctx context.Context, id string, pushedAt time.Time) error

	// DeleteBefore removes rated usage whose period ended before cutoff and
	// returns the number of rows removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
