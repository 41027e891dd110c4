package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/events"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/types"
)

// recentLookback bounds the incremental derivation scan
const recentLookback = 2 * time.Hour

// DeriveResult summarizes one derivation pass
type DeriveResult struct {
	EventsProcessed  int
	ReadingsUpserted int
	WindowsTouched   int
}

// DeriverService folds raw events into windowed meter readings. Each pass
// processes an event at most once: the incremental path advances a cursor
// over event ids, the reprocess path clears the window first.
type DeriverService interface {
	// DeriveRange derives readings from events in [from, to) past the cursor
	DeriveRange(ctx context.Context, from, to time.Time) (*DeriveResult, error)

	// DeriveRecent derives readings from the recent lookback window
	DeriveRecent(ctx context.Context) (*DeriveResult, error)

	// ReprocessCustomerPeriod deletes the customer's readings in the period
	// and re-derives them from raw events
	ReprocessCustomerPeriod(ctx context.Context, customerID string, period types.Window) (*DeriveResult, error)
}

type deriverService struct {
	ServiceParams

	mu           sync.Mutex
	cursor       int64
	windowSize   time.Duration
	maxBatchSize int
}

func NewDeriverService(params ServiceParams) DeriverService {
	return &deriverService{
		ServiceParams: params,
		windowSize:    params.Config.Deriver.WindowSize(),
		maxBatchSize:  params.Config.Deriver.BatchSize,
	}
}

func (s *deriverService) DeriveRecent(ctx context.Context) (*DeriveResult, error) {
	now := time.Now().UTC()
	return s.DeriveRange(ctx, now.Add(-recentLookback), now)
}

func (s *deriverService) DeriveRange(ctx context.Context, from, to time.Time) (*DeriveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanned, err := s.EventRepo.Scan(ctx, events.ScanParams{
		From:  &from,
		To:    &to,
		Limit: s.maxBatchSize,
	})
	if err != nil {
		return nil, err
	}

	// the cursor guards against re-deriving events already folded in by an
	// earlier overlapping pass
	fresh := make([]*events.RawEvent, 0, len(scanned))
	maxID := s.cursor
	for _, event := range scanned {
		if event.ID > s.cursor {
			fresh = append(fresh, event)
		}
		if event.ID > maxID {
			maxID = event.ID
		}
	}

	result, err := s.derive(ctx, fresh)
	if err != nil {
		return nil, err
	}
	s.cursor = maxID
	return result, nil
}

func (s *deriverService) ReprocessCustomerPeriod(ctx context.Context, customerID string, period types.Window) (*DeriveResult, error) {
	deleted, err := s.MeterRepo.DeleteWindow(ctx, customerID, period)
	if err != nil {
		return nil, err
	}

	scanned, err := s.EventRepo.Scan(ctx, events.ScanParams{
		CustomerID: customerID,
		From:       &period.Start,
		To:         &period.End,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.derive(ctx, scanned)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("reprocessed customer period",
		"customer_id", customerID,
		"period_start", period.Start,
		"readings_deleted", deleted,
		"readings_upserted", result.ReadingsUpserted,
	)
	return result, nil
}

type windowKey struct {
	customerID  string
	windowStart time.Time
}

type windowBucket struct {
	meters   map[string]decimal.Decimal
	eventIDs []int64
}

// derive buckets events into epoch-aligned windows per customer, applies the
// edge and work rules, and upserts one reading per positive meter sum.
// Provenance on every reading is the full event id set of its window.
func (s *deriverService) derive(ctx context.Context, batch []*events.RawEvent) (*DeriveResult, error) {
	result := &DeriveResult{EventsProcessed: len(batch)}

	buckets := make(map[windowKey]*windowBucket)
	for _, event := range batch {
		key := windowKey{
			customerID:  event.CustomerID,
			windowStart: types.FloorToWindow(event.TS, s.windowSize),
		}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &windowBucket{meters: make(map[string]decimal.Decimal)}
			buckets[key] = bucket
		}
		bucket.eventIDs = append(bucket.eventIDs, event.ID)

		s.applyEdgeRules(bucket, event)
		s.applyWorkRules(bucket, event)
	}

	keys := make([]windowKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].customerID != keys[j].customerID {
			return keys[i].customerID < keys[j].customerID
		}
		return keys[i].windowStart.Before(keys[j].windowStart)
	})

	for _, key := range keys {
		bucket := buckets[key]
		window := types.NewWindow(key.windowStart, key.windowStart.Add(s.windowSize))

		meterKeys := make([]string, 0, len(bucket.meters))
		for mk := range bucket.meters {
			meterKeys = append(meterKeys, mk)
		}
		sort.Strings(meterKeys)

		readings := make([]*metering.MeterReading, 0, len(meterKeys))
		for _, mk := range meterKeys {
			value := bucket.meters[mk]
			if value.LessThanOrEqual(decimal.Zero) {
				continue
			}
			readings = append(readings, &metering.MeterReading{
				CustomerID:  key.customerID,
				MeterKey:    mk,
				Window:      window,
				Value:       value,
				SrcEventIDs: bucket.eventIDs,
			})
		}
		if len(readings) == 0 {
			continue
		}
		// the window commits as a unit so a failed pass never leaves a
		// partially derived window behind
		if err := s.MeterRepo.UpsertBatch(ctx, readings); err != nil {
			return nil, err
		}
		result.ReadingsUpserted += len(readings)
		result.WindowsTouched++
	}
	return result, nil
}

func (b *windowBucket) add(meterKey string, value decimal.Decimal) {
	b.meters[meterKey] = b.meters[meterKey].Add(value)
}

func (b *windowBucket) addInt(meterKey string, value int64) {
	if value != 0 {
		b.add(meterKey, decimal.NewFromInt(value))
	}
}

// applyEdgeRules folds resource consumption out of the event
func (s *deriverService) applyEdgeRules(bucket *windowBucket, event *events.RawEvent) {
	if event.EventType == types.EventTypeSpanStarted || event.EventType == types.EventTypeSpanEnded {
		bucket.add(meter.MeterAPICalls, decimal.NewFromInt(1))
	}

	edge := event.Payload.Edge
	if edge == nil {
		return
	}
	tokens := edge.LLMTokensInput + edge.LLMTokensOutput + edge.LLMTokens
	bucket.addInt(meter.MeterLLMTokens, tokens)
	bucket.addInt(meter.MeterLLMTokensInput, edge.LLMTokensInput)
	bucket.addInt(meter.MeterLLMTokensOutput, edge.LLMTokensOutput)
	bucket.addInt(meter.MeterComputeMS, edge.ComputeMS)
	bucket.addInt(meter.MeterNetBytes, edge.NetBytesIn+edge.NetBytesOut)
	if !edge.StorageGBHours.IsZero() {
		bucket.add(meter.MeterStorageGBH, edge.StorageGBHours)
	}
}

// applyWorkRules folds business outcomes out of the event
func (s *deriverService) applyWorkRules(bucket *windowBucket, event *events.RawEvent) {
	one := decimal.NewFromInt(1)

	if event.EventType == types.EventTypeSpanEnded {
		work := event.Payload.Work
		if work != nil && work.WorkflowDefinition != "" {
			if event.Payload.Status == types.SpanStatusOK {
				bucket.add(meter.MeterWorkflowCompleted, one)
			} else {
				bucket.add(meter.MeterWorkflowFailed, one)
			}
		}
		if work != nil && work.StepKey != "" {
			bucket.add(meter.MeterStepCompleted, one)
		}
		return
	}

	if event.EventType == types.EventTypeOutcome || event.EventType == types.EventTypeSpanEvent {
		if mk, ok := meter.OutcomeMeterForEventName(event.Payload.EventName); ok {
			bucket.add(mk, one)
			return
		}
		if event.Payload.Outcome != nil {
			if mk, ok := meter.OutcomeMeterForType(event.Payload.Outcome.OutcomeType); ok {
				bucket.add(mk, one)
			}
		}
	}
}
