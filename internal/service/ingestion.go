package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kachi-io/kachi/internal/domain/events"
	"github.com/kachi-io/kachi/internal/domain/workflow"
	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/types"
)

// IngestionService normalizes trace exports and outcome submissions into the
// raw event store.
type IngestionService interface {
	// ProcessTraceExport normalizes a trace payload. Item-level failures are
	// collected in the result, a bad span never rejects its siblings.
	ProcessTraceExport(ctx context.Context, req *dto.TraceExportRequest) (*dto.IngestResult, error)

	// ProcessOutcomeEvent records a direct outcome submission
	ProcessOutcomeEvent(ctx context.Context, req *dto.OutcomeEventRequest) (*dto.IngestResult, error)
}

type ingestionService struct {
	ServiceParams
	outcomes OutcomeService
}

func NewIngestionService(params ServiceParams, outcomes OutcomeService) IngestionService {
	return &ingestionService{ServiceParams: params, outcomes: outcomes}
}

func (s *ingestionService) ProcessTraceExport(ctx context.Context, req *dto.TraceExportRequest) (*dto.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &dto.IngestResult{}
	var batch []*events.RawEvent

	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for i := range ss.Spans {
				span := &ss.Spans[i]
				spanEvents, err := s.normalizeSpan(ctx, rs.Resource.Attributes, span)
				if err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("span %s: %v", span.SpanID, err))
					continue
				}
				batch = append(batch, spanEvents...)
				result.SpansProcessed++
			}
		}
	}

	if err := s.EventRepo.AppendBatch(ctx, batch); err != nil {
		return nil, err
	}
	result.EventsProcessed = len(batch)

	s.Logger.Infow("trace export processed",
		"spans", result.SpansProcessed,
		"events", result.EventsProcessed,
		"errors", len(result.Errors),
	)
	return result, nil
}

// normalizeSpan turns one span into span_started, span_ended and span_event
// raw events. The span's customer must resolve before anything is emitted.
func (s *ingestionService) normalizeSpan(ctx context.Context, resourceAttrs map[string]any, span *dto.Span) ([]*events.RawEvent, error) {
	merged := mergeAttributes(resourceAttrs, span.Attributes)

	billing := extractBilling(merged)
	if billing == nil {
		return nil, ierr.NewError("missing billing.customer_id").
			WithHint("Every billable span must carry billing.customer_id").
			Mark(ierr.ErrValidation)
	}
	customerID, err := types.ParseCustomerID(billing.CustomerID)
	if err != nil {
		return nil, ierr.NewErrorf("invalid customer id %q", billing.CustomerID).
			Mark(ierr.ErrValidation)
	}
	known, err := s.CustomerRepo.Exists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, ierr.NewErrorf("unknown customer %s", customerID).
			Mark(ierr.ErrNotFound)
	}
	billing.CustomerID = customerID

	work := extractWork(merged)
	edge := extractEdge(merged)

	runID, err := s.trackWorkflowRun(ctx, customerID, billing, work, span)
	if err != nil {
		return nil, err
	}

	var batch []*events.RawEvent

	batch = append(batch, &events.RawEvent{
		CustomerID: customerID,
		TS:         span.StartTime(),
		EventType:  types.EventTypeSpanStarted,
		TraceID:    span.TraceID,
		SpanID:     span.SpanID,
		Payload: events.Payload{
			SpanName:      span.Name,
			ParentSpanID:  span.ParentSpanID,
			WorkflowRunID: runID,
			Attributes:    merged,
			Billing:       billing,
			Work:          work,
		},
	})

	// still-open spans have no end time; the re-export with end_time set
	// emits the span_ended later
	if span.EndTimeUnixNano != 0 {
		batch = append(batch, &events.RawEvent{
			CustomerID: customerID,
			TS:         span.EndTime(),
			EventType:  types.EventTypeSpanEnded,
			TraceID:    span.TraceID,
			SpanID:     span.SpanID,
			Payload: events.Payload{
				SpanName:      span.Name,
				ParentSpanID:  span.ParentSpanID,
				Status:        span.Status.Code,
				DurationNS:    span.EndTimeUnixNano - span.StartTimeUnixNano,
				WorkflowRunID: runID,
				Attributes:    merged,
				Billing:       billing,
				Edge:          edge,
				Work:          work,
			},
		})
	}

	for i := range span.Events {
		event := &span.Events[i]
		eventAttrs := mergeAttributes(merged, event.Attributes)
		batch = append(batch, &events.RawEvent{
			CustomerID: customerID,
			TS:         time.Unix(0, event.TimeUnixNano).UTC(),
			EventType:  types.EventTypeSpanEvent,
			TraceID:    span.TraceID,
			SpanID:     span.SpanID,
			Payload: events.Payload{
				SpanName:      span.Name,
				EventName:     event.Name,
				WorkflowRunID: runID,
				Attributes:    eventAttrs,
				Billing:       billing,
				Edge:          extractEdge(eventAttrs),
				Outcome:       extractOutcome(eventAttrs),
			},
		})
	}

	if span.EndTimeUnixNano != 0 {
		if err := s.finishWorkflowRun(ctx, runID, work, span); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// trackWorkflowRun registers a run for workflow spans. Re-exported spans are
// fine: an existing run is reused.
func (s *ingestionService) trackWorkflowRun(ctx context.Context, customerID string, billing *events.BillingAttributes, work *events.WorkAttributes, span *dto.Span) (string, error) {
	if work == nil || work.WorkflowDefinition == "" {
		return billing.WorkflowRunID, nil
	}

	version := work.WorkflowVersion
	if version == 0 {
		version = 1
	}
	def, err := s.WorkflowRepo.GetDefinition(ctx, work.WorkflowDefinition, version)
	if ierr.IsNotFound(err) {
		def = &workflow.Definition{
			ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_DEF),
			Key:       work.WorkflowDefinition,
			Version:   version,
			Active:    true,
			BaseModel: types.GetDefaultBaseModel(),
		}
		if createErr := s.WorkflowRepo.CreateDefinition(ctx, def); createErr != nil && !ierr.IsAlreadyExists(createErr) {
			return "", createErr
		}
		if def, err = s.WorkflowRepo.GetDefinition(ctx, work.WorkflowDefinition, version); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	runID := billing.WorkflowRunID
	if runID == "" {
		runID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_RUN)
		billing.WorkflowRunID = runID
	}
	err = s.WorkflowRepo.CreateRun(ctx, &workflow.Run{
		ID:           runID,
		CustomerID:   customerID,
		DefinitionID: def.ID,
		StartedAt:    span.StartTime(),
		Status:       types.WorkflowRunStatusRunning,
	})
	if err != nil && !ierr.IsAlreadyExists(err) {
		return "", err
	}
	return runID, nil
}

func (s *ingestionService) finishWorkflowRun(ctx context.Context, runID string, work *events.WorkAttributes, span *dto.Span) error {
	if work == nil || work.WorkflowDefinition == "" || runID == "" {
		return nil
	}
	status := types.WorkflowRunStatusFailed
	if span.Status.Code == types.SpanStatusOK {
		status = types.WorkflowRunStatusCompleted
	}
	err := s.WorkflowRepo.FinishRun(ctx, runID, span.EndTime(), status)
	if err != nil && !ierr.IsInvalidOperation(err) {
		return err
	}
	return nil
}

func (s *ingestionService) ProcessOutcomeEvent(ctx context.Context, req *dto.OutcomeEventRequest) (*dto.IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	customerID, err := types.ParseCustomerID(req.CustomerID)
	if err != nil {
		return nil, ierr.NewErrorf("invalid customer id %q", req.CustomerID).
			Mark(ierr.ErrValidation)
	}
	known, err := s.CustomerRepo.Exists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, ierr.NewErrorf("unknown customer %s", customerID).
			Mark(ierr.ErrNotFound)
	}
	if req.WorkflowRunID != "" {
		if _, err := s.WorkflowRepo.GetRun(ctx, req.WorkflowRunID); err != nil {
			return nil, err
		}
	}

	ts := req.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = types.GenerateUUID()
	}
	spanID := req.SpanID
	if spanID == "" {
		spanID = types.GenerateUUID()
	}

	event := &events.RawEvent{
		CustomerID: customerID,
		TS:         ts,
		EventType:  types.EventTypeOutcome,
		TraceID:    traceID,
		SpanID:     spanID,
		Payload: events.Payload{
			EventName:     req.EventName,
			WorkflowRunID: req.WorkflowRunID,
			Outcome: &events.OutcomeAttributes{
				SLAMet:       req.SLAMet,
				OutcomeType:  req.OutcomeType,
				OutcomeValue: req.OutcomeValue,
			},
		},
	}
	if err := s.EventRepo.Append(ctx, event); err != nil {
		return nil, err
	}

	// submissions outside the outcome meter catalog stay plain raw events
	if _, ok := meter.OutcomeMeterForSubmission(req.EventName, req.OutcomeType); ok {
		if _, err := s.outcomes.RecordOutcome(ctx, customerID, req); err != nil {
			return nil, err
		}
	}

	return &dto.IngestResult{SpansProcessed: 0, EventsProcessed: 1}, nil
}
