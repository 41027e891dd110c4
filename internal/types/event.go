package types

// EventType classifies a raw telemetry event
type EventType string

const (
	EventTypeSpanStarted EventType = "span_started"
	EventTypeSpanEnded   EventType = "span_ended"
	EventTypeSpanEvent   EventType = "span_event"
	EventTypeOutcome     EventType = "outcome"
	EventTypeCounter     EventType = "counter"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeSpanStarted, EventTypeSpanEnded, EventTypeSpanEvent,
		EventTypeOutcome, EventTypeCounter:
		return true
	}
	return false
}

// WorkflowRunStatus is the lifecycle status of a workflow run
type WorkflowRunStatus string

const (
	WorkflowRunStatusRunning   WorkflowRunStatus = "running"
	WorkflowRunStatusCompleted WorkflowRunStatus = "completed"
	WorkflowRunStatusFailed    WorkflowRunStatus = "failed"
	WorkflowRunStatusCancelled WorkflowRunStatus = "cancelled"
)

// SpanStatusOK is the span status code that marks a successful span end.
// Anything else counts as a failure for work derivation.
const SpanStatusOK = "OK"
