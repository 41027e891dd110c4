package metering

import (
	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// MeterReading is an aggregated meter value for one customer, meter and
// half-open time window. Readings are unique per (customer, meter, window)
// and upserts are additive.
type MeterReading struct {
	ID         int64           `db:"id" json:"id"`
	CustomerID string          `db:"customer_id" json:"customer_id"`
	MeterKey   string          `db:"meter_key" json:"meter_key"`
	Window     types.Window    `json:"window"`
	Value      decimal.Decimal `db:"value" json:"value"`

	// SrcEventIDs is the provenance set: ids of the raw events this reading
	// was derived from. Empty for externally imported readings.
	SrcEventIDs []int64 `json:"src_event_ids,omitempty"`

	// Metadata carries import provenance for external readings
	Metadata types.Metadata `json:"metadata,omitempty"`
}

// Validate checks the reading invariants before an upsert
func (r *MeterReading) Validate() error {
	if r.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Meter readings must reference a customer").
			Mark(ierr.ErrValidation)
	}
	if r.MeterKey == "" {
		return ierr.NewError("meter_key is required").
			WithHint("Meter readings must name a meter").
			Mark(ierr.ErrValidation)
	}
	if !r.Window.IsValid() {
		return ierr.NewError("invalid window").
			WithHint("window_start must be before window_end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MeterUsage is an aggregate of all readings for one meter over a period
type MeterUsage struct {
	MeterKey string          `db:"meter_key" json:"meter_key"`
	Value    decimal.Decimal `db:"value" json:"value"`
}
