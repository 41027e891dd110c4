package dto

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
	"github.com/kachi-io/kachi/internal/validator"
)

// UsagePreviewRequest asks for a dry-run rating of the period so far
type UsagePreviewRequest struct {
	CustomerID       string    `json:"customer_id" validate:"required"`
	Start            time.Time `json:"start" validate:"required"`
	End              time.Time `json:"end" validate:"required"`
	IncludeBreakdown bool      `json:"include_breakdown"`
}

func (r *UsagePreviewRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Start.Before(r.End) {
		return ierr.NewError("start must be before end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *UsagePreviewRequest) Period() types.Window {
	return types.NewWindow(r.Start, r.End)
}

// UsagePreviewResponse is the dry-run rating result. Meters carries the raw
// aggregated usage for every meter in the period, priced or not, so unpriced
// meters stay visible in the preview.
type UsagePreviewResponse struct {
	CustomerID    string                     `json:"customer_id"`
	PeriodStart   time.Time                  `json:"period_start"`
	PeriodEnd     time.Time                  `json:"period_end"`
	Meters        map[string]decimal.Decimal `json:"meters"`
	EstimatedCost decimal.Decimal            `json:"estimated_cost"`
	Breakdown     *PreviewBreakdown          `json:"breakdown,omitempty"`
}

// PreviewBreakdown itemizes the estimate when include_breakdown is set
type PreviewBreakdown struct {
	BaseFee  decimal.Decimal                  `json:"base_fee"`
	PerMeter map[string]PreviewMeterBreakdown `json:"per_meter"`
}

type PreviewMeterBreakdown struct {
	Usage    decimal.Decimal `json:"usage"`
	Included decimal.Decimal `json:"included"`
	Envelope decimal.Decimal `json:"envelope"`
	Billable decimal.Decimal `json:"billable"`
	Amount   decimal.Decimal `json:"amount"`
}

// AdjustmentRequest records a manual usage correction. The adjustment lands
// as an additive reading and an audit entry, never by editing history.
type AdjustmentRequest struct {
	CustomerID string          `json:"customer_id" validate:"required"`
	MeterKey   string          `json:"meter_key" validate:"required"`
	Window     types.Window    `json:"window"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason" validate:"required"`
	Actor      string          `json:"actor" validate:"required"`
}

func (r *AdjustmentRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Window.IsValid() {
		return ierr.NewError("invalid adjustment window").
			Mark(ierr.ErrValidation)
	}
	if r.Delta.IsZero() {
		return ierr.NewError("delta must be non-zero").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ExportLine is one line pushed to the external billing provider. Meter keys
// are underscored for provider compatibility.
type ExportLine struct {
	MeterKey    string          `json:"meter_key"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	LineType    string          `json:"line_type"`
	Description string          `json:"description"`
}

// BillingExport is the full export payload for one rated period
type BillingExport struct {
	CustomerID        string          `json:"customer_id"`
	ExternalBillingID string          `json:"external_billing_id"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	Currency          string          `json:"currency"`
	Lines             []ExportLine    `json:"lines"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	Total             decimal.Decimal `json:"total"`
}
