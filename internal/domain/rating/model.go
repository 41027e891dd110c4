package rating

import (
	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/types"
)

// Precedence controls the order work and edge meters are rated in, which in
// turn determines how envelopes apply.
type Precedence string

const (
	// PrecedenceWorkOverEdges rates work first, then edges with envelopes
	PrecedenceWorkOverEdges Precedence = "work_over_edges"
	// PrecedenceEdgesOverWork rates edges first without envelopes, then work
	PrecedenceEdgesOverWork Precedence = "edges_over_work"
	// PrecedenceParallel rates both rails independently; edges get a reduced
	// envelope benefit
	PrecedenceParallel Precedence = "parallel"
)

// LineType classifies a rated line
type LineType string

const (
	LineTypeWork       LineType = "work"
	LineTypeEdge       LineType = "edge"
	LineTypeBaseFee    LineType = "base_fee"
	LineTypeSuccessFee LineType = "success_fee"
)

// PricingTier prices a contiguous usage range [MinUsage, MaxUsage).
// A nil MaxUsage means unbounded. A usage value exactly at a boundary belongs
// to the tier whose MinUsage equals it.
type PricingTier struct {
	MinUsage  decimal.Decimal  `json:"min_usage"`
	MaxUsage  *decimal.Decimal `json:"max_usage,omitempty"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	FlatFee   decimal.Decimal  `json:"flat_fee"`
}

// MeterPricing is the pricing configuration for one meter
type MeterPricing struct {
	MeterKey      string          `json:"meter_key"`
	IncludedQuota decimal.Decimal `json:"included_quota"`
	Tiers         []PricingTier   `json:"tiers"`
	// Unit labels the meter quantity: count, tokens, ms, bytes, ...
	Unit string `json:"unit"`
}

// Exclusion drops edge meters from billing when a work meter has usage
type Exclusion struct {
	// When is the work meter whose positive usage triggers the exclusion
	When string `json:"when"`
	// Drop lists the edge meters removed from the rating input
	Drop []string `json:"drop"`
}

// SuccessFeeConfig prices settled outcomes for one outcome meter
type SuccessFeeConfig struct {
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	// Conditions must all match an outcome's verification metadata
	Conditions map[string]string `json:"conditions,omitempty"`
	// SettlementDays is the holdback between outcome creation and settlement
	SettlementDays int `json:"settlement_days"`
	// ExternalVerification defers verification to an external system;
	// without it outcomes auto-verify on creation
	ExternalVerification bool   `json:"external_verification"`
	ExternalSystem       string `json:"external_system,omitempty"`
}

// Policy is the complete rating policy for a customer plan
type Policy struct {
	Precedence Precedence `json:"precedence"`

	// EdgesIncludedPerWork maps work meter -> edge meter -> allowance per
	// unit of work. Envelopes are allocated from these allowances.
	EdgesIncludedPerWork map[string]map[string]decimal.Decimal `json:"edges_included_per_work,omitempty"`

	// Exclusions apply in order before envelopes are allocated
	Exclusions []Exclusion `json:"exclusions,omitempty"`

	// OverageSpill bills edge usage beyond included+envelope. When false,
	// edge usage past the envelope is never billed.
	OverageSpill bool `json:"overage_spill"`

	MeterPricing map[string]MeterPricing `json:"meter_pricing,omitempty"`

	BaseFee         decimal.Decimal             `json:"base_fee"`
	SpendCap        *decimal.Decimal            `json:"spend_cap,omitempty"`
	DiscountPercent decimal.Decimal             `json:"discount_percent"`
	SuccessFees     map[string]SuccessFeeConfig `json:"success_fees,omitempty"`
}

// DefaultPolicy returns a work-over-edges policy with spill enabled
func DefaultPolicy() Policy {
	return Policy{
		Precedence:   PrecedenceWorkOverEdges,
		OverageSpill: true,
	}
}

// Usage is one aggregated meter value entering the rating engine
type Usage struct {
	MeterKey string          `json:"meter_key"`
	Value    decimal.Decimal `json:"value"`
}

// RatedLine is a single rated line item
type RatedLine struct {
	MeterKey         string          `json:"meter_key"`
	UsageQuantity    decimal.Decimal `json:"usage_quantity"`
	BillableQuantity decimal.Decimal `json:"billable_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Amount           decimal.Decimal `json:"amount"`
	LineType         LineType        `json:"line_type"`
	Description      string          `json:"description"`
	EnvelopeConsumed decimal.Decimal `json:"envelope_consumed"`
	IncludedConsumed decimal.Decimal `json:"included_consumed"`
}

// EnvelopeAllocation tracks the per-edge-meter allowance earned by work
type EnvelopeAllocation struct {
	EdgeMeter string          `json:"edge_meter"`
	Allocated decimal.Decimal `json:"allocated"`
	Consumed  decimal.Decimal `json:"consumed"`
	Remaining decimal.Decimal `json:"remaining"`
}

// IsExhausted reports whether no allowance remains
func (e *EnvelopeAllocation) IsExhausted() bool {
	return e.Remaining.LessThanOrEqual(decimal.Zero)
}

// TierBreakdown records how much usage each tier priced
type TierBreakdown struct {
	TierUsage decimal.Decimal `json:"tier_usage"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// Result is the complete, self-contained output of rating one customer
// period.
type Result struct {
	CustomerID string                         `json:"customer_id"`
	Period     types.Window                   `json:"period"`
	Lines      []RatedLine                    `json:"lines"`
	Envelopes  map[string]*EnvelopeAllocation `json:"envelopes"`
	Subtotal   decimal.Decimal                `json:"subtotal"`
	Discount   decimal.Decimal                `json:"discount"`
	Total      decimal.Decimal                `json:"total"`
	COGS       decimal.Decimal                `json:"cogs"`
	Margin     decimal.Decimal                `json:"margin"`
}
