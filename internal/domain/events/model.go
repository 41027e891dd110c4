package events

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// RawEvent is a normalized telemetry event. Events are append-only and
// logically immutable; the tuple (trace_id, span_id, event_type, ts)
// identifies an event uniquely and duplicate appends are no-ops.
type RawEvent struct {
	// ID is assigned by the store and is monotonic within a customer
	ID int64 `db:"id" json:"id"`

	CustomerID string          `db:"customer_id" json:"customer_id"`
	TS         time.Time       `db:"ts" json:"ts"`
	EventType  types.EventType `db:"event_type" json:"event_type"`

	TraceID string `db:"trace_id" json:"trace_id,omitempty"`
	SpanID  string `db:"span_id" json:"span_id,omitempty"`

	Payload Payload `db:"payload" json:"payload"`
}

// Payload carries the structured attribute groups extracted by the
// normalizer plus the raw merged attribute map for drill-down.
type Payload struct {
	SpanName     string `json:"span_name,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	EventName    string `json:"event_name,omitempty"`

	// Status is the span status code on span_ended events ("OK" on success)
	Status string `json:"status,omitempty"`

	// DurationNS is the span duration in nanoseconds on span_ended events
	DurationNS int64 `json:"duration_ns,omitempty"`

	WorkflowRunID string `json:"workflow_run_id,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`

	Billing *BillingAttributes `json:"billing,omitempty"`
	Edge    *EdgeAttributes    `json:"edge,omitempty"`
	Work    *WorkAttributes    `json:"work,omitempty"`
	Outcome *OutcomeAttributes `json:"outcome,omitempty"`
}

// BillingAttributes is the billing.* attribute group. CustomerID is the only
// required attribute on any billable span.
type BillingAttributes struct {
	CustomerID      string   `json:"customer_id"`
	WorkflowRunID   string   `json:"workflow_run_id,omitempty"`
	MeterCandidates []string `json:"meter_candidates,omitempty"`
}

// EdgeAttributes is the resource-consumption attribute group
type EdgeAttributes struct {
	LLMTokensInput  int64           `json:"llm_tokens_input,omitempty"`
	LLMTokensOutput int64           `json:"llm_tokens_output,omitempty"`
	LLMTokens       int64           `json:"llm_tokens,omitempty"`
	ComputeMS       int64           `json:"compute_ms,omitempty"`
	NetBytesIn      int64           `json:"net_bytes_in,omitempty"`
	NetBytesOut     int64           `json:"net_bytes_out,omitempty"`
	StorageGBHours  decimal.Decimal `json:"storage_gb_hours"`
}

// IsZero reports whether no edge attribute carries a value
func (a *EdgeAttributes) IsZero() bool {
	if a == nil {
		return true
	}
	return a.LLMTokensInput == 0 && a.LLMTokensOutput == 0 && a.LLMTokens == 0 &&
		a.ComputeMS == 0 && a.NetBytesIn == 0 && a.NetBytesOut == 0 &&
		a.StorageGBHours.IsZero()
}

// WorkAttributes is the business-outcome attribute group
type WorkAttributes struct {
	WorkflowDefinition string `json:"workflow_definition,omitempty"`
	WorkflowVersion    int    `json:"workflow_version,omitempty"`
	StepKey            string `json:"step_key,omitempty"`
	ActorType          string `json:"actor_type,omitempty"`
}

// OutcomeAttributes is the outcome attribute group on outcome submissions
// and span events
type OutcomeAttributes struct {
	SLAMet       *bool           `json:"sla_met,omitempty"`
	OutcomeType  string          `json:"outcome_type,omitempty"`
	OutcomeValue decimal.Decimal `json:"outcome_value"`
}

// Validate validates the event before it is appended
func (e *RawEvent) Validate() error {
	if e.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Raw events must reference a customer").
			Mark(ierr.ErrValidation)
	}
	if !e.EventType.Valid() {
		return ierr.NewErrorf("invalid event type %q", e.EventType).
			WithHint("Event type must be one of span_started, span_ended, span_event, outcome, counter").
			Mark(ierr.ErrValidation)
	}
	if e.TS.IsZero() {
		return ierr.NewError("event timestamp is required").
			WithHint("Raw events must carry a timezone-aware timestamp").
			Mark(ierr.ErrValidation)
	}
	return nil
}
