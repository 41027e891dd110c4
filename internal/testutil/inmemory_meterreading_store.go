package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/types"
)

// InMemoryMeterReadingStore implements metering.Repository for tests
type InMemoryMeterReadingStore struct {
	mu       sync.RWMutex
	nextID   int64
	readings map[string]*metering.MeterReading
}

func NewInMemoryMeterReadingStore() *InMemoryMeterReadingStore {
	return &InMemoryMeterReadingStore{
		nextID:   1,
		readings: make(map[string]*metering.MeterReading),
	}
}

func readingKey(customerID, meterKey string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", customerID, meterKey, windowStart.UTC().UnixNano())
}

func (s *InMemoryMeterReadingStore) Upsert(ctx context.Context, reading *metering.MeterReading) error {
	if err := reading.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := readingKey(reading.CustomerID, reading.MeterKey, reading.Window.Start)
	existing, ok := s.readings[key]
	if !ok {
		clone := *reading
		clone.ID = s.nextID
		s.nextID++
		clone.SrcEventIDs = append([]int64(nil), reading.SrcEventIDs...)
		clone.Metadata = cloneMetadata(reading.Metadata)
		s.readings[key] = &clone
		reading.ID = clone.ID
		return nil
	}

	existing.Value = existing.Value.Add(reading.Value)
	existing.SrcEventIDs = mergeIDs(existing.SrcEventIDs, reading.SrcEventIDs)
	if existing.Metadata == nil {
		existing.Metadata = types.Metadata{}
	}
	for k, v := range reading.Metadata {
		existing.Metadata[k] = v
	}
	reading.ID = existing.ID
	return nil
}

func (s *InMemoryMeterReadingStore) UpsertBatch(ctx context.Context, readings []*metering.MeterReading) error {
	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
	}
	for _, reading := range readings {
		if err := s.Upsert(ctx, reading); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryMeterReadingStore) Sum(ctx context.Context, customerID, meterKey string, window types.Window) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, r := range s.readings {
		if r.CustomerID == customerID && r.MeterKey == meterKey && window.Contains(r.Window.Start) {
			total = total.Add(r.Value)
		}
	}
	return total, nil
}

func (s *InMemoryMeterReadingStore) ByMeter(ctx context.Context, customerID string, window types.Window) ([]metering.MeterUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, r := range s.readings {
		if r.CustomerID == customerID && window.Contains(r.Window.Start) {
			totals[r.MeterKey] = totals[r.MeterKey].Add(r.Value)
		}
	}

	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	usage := make([]metering.MeterUsage, 0, len(keys))
	for _, k := range keys {
		usage = append(usage, metering.MeterUsage{MeterKey: k, Value: totals[k]})
	}
	return usage, nil
}

func (s *InMemoryMeterReadingStore) List(ctx context.Context, params metering.ListParams) ([]*metering.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*metering.MeterReading
	for _, r := range s.readings {
		if r.CustomerID != params.CustomerID || !params.Window.Contains(r.Window.Start) {
			continue
		}
		if params.MeterKey != "" && r.MeterKey != params.MeterKey {
			continue
		}
		clone := *r
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Window.Start.Equal(result[j].Window.Start) {
			if params.Order == metering.ListOrderDesc {
				return result[i].Window.Start.After(result[j].Window.Start)
			}
			return result[i].Window.Start.Before(result[j].Window.Start)
		}
		return result[i].MeterKey < result[j].MeterKey
	})
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

func (s *InMemoryMeterReadingStore) CountSince(ctx context.Context, customerID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, r := range s.readings {
		if r.CustomerID == customerID && !r.Window.Start.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryMeterReadingStore) DeleteWindow(ctx context.Context, customerID string, window types.Window) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, r := range s.readings {
		if r.CustomerID == customerID && window.Contains(r.Window.Start) {
			delete(s.readings, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryMeterReadingStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, r := range s.readings {
		if r.Window.End.Before(cutoff) {
			delete(s.readings, key)
			deleted++
		}
	}
	return deleted, nil
}

func mergeIDs(existing, incoming []int64) []int64 {
	seen := make(map[int64]bool, len(existing))
	merged := append([]int64(nil), existing...)
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			merged = append(merged, id)
			seen[id] = true
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	return merged
}

func cloneMetadata(m types.Metadata) types.Metadata {
	if m == nil {
		return nil
	}
	clone := make(types.Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
