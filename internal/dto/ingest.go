package dto

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/validator"
)

// TraceExportRequest is the OTLP-shaped trace payload accepted by the ingest
// surface: resource spans wrapping scope spans wrapping spans.
type TraceExportRequest struct {
	ResourceSpans []ResourceSpans `json:"resource_spans" validate:"required,min=1"`
}

type ResourceSpans struct {
	Resource   Resource     `json:"resource"`
	ScopeSpans []ScopeSpans `json:"scope_spans"`
}

type Resource struct {
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ScopeSpans struct {
	Scope Scope  `json:"scope"`
	Spans []Span `json:"spans"`
}

type Scope struct {
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Span struct {
	TraceID           string         `json:"trace_id"`
	SpanID            string         `json:"span_id"`
	ParentSpanID      string         `json:"parent_span_id,omitempty"`
	Name              string         `json:"name"`
	StartTimeUnixNano int64          `json:"start_time_unix_nano"`
	EndTimeUnixNano   int64          `json:"end_time_unix_nano"`
	Status            SpanStatus     `json:"status"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	Events            []SpanEvent    `json:"events,omitempty"`
}

type SpanStatus struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SpanEvent struct {
	Name         string         `json:"name"`
	TimeUnixNano int64          `json:"time_unix_nano"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

func (r *TraceExportRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// StartTime converts the span start to a UTC time
func (s *Span) StartTime() time.Time {
	return time.Unix(0, s.StartTimeUnixNano).UTC()
}

// EndTime converts the span end to a UTC time
func (s *Span) EndTime() time.Time {
	return time.Unix(0, s.EndTimeUnixNano).UTC()
}

// OutcomeEventRequest is a direct outcome submission, bypassing tracing. The
// workflow run is optional; event_name carries the business meaning and is
// mapped to an outcome meter by substring, outcome_type overrides the
// mapping explicitly.
type OutcomeEventRequest struct {
	CustomerID    string `json:"customer_id" validate:"required"`
	WorkflowRunID string `json:"workflow_run_id,omitempty"`
	EventName     string `json:"event_name,omitempty"`
	OutcomeType   string `json:"outcome_type,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`

	SLAMet       *bool           `json:"sla_met,omitempty"`
	OutcomeValue decimal.Decimal `json:"outcome_value"`

	TS time.Time `json:"ts"`

	// ExternalSystem and ExternalRef opt the outcome into external
	// verification
	ExternalSystem string `json:"external_system,omitempty"`
	ExternalRef    string `json:"external_ref,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

func (r *OutcomeEventRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.EventName == "" && r.OutcomeType == "" {
		return ierr.NewError("event_name or outcome_type is required").
			Mark(ierr.ErrValidation)
	}
	if r.OutcomeValue.IsNegative() {
		return ierr.NewError("outcome_value must be non-negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IngestResult summarizes one ingest call. Item-level failures are reported
// here, they never abort the rest of the batch.
type IngestResult struct {
	SpansProcessed  int      `json:"spans_processed"`
	EventsProcessed int      `json:"events_processed"`
	Errors          []string `json:"errors,omitempty"`
}
