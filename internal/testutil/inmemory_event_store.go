package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kachi-io/kachi/internal/domain/events"
)

// InMemoryEventStore implements events.Repository for tests
type InMemoryEventStore struct {
	mu     sync.RWMutex
	nextID int64
	events []*events.RawEvent
	seen   map[string]int64
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		nextID: 1,
		seen:   make(map[string]int64),
	}
}

func identityKey(e *events.RawEvent) string {
	return fmt.Sprintf("%s|%s|%s|%d", e.TraceID, e.SpanID, e.EventType, e.TS.UTC().UnixNano())
}

func (s *InMemoryEventStore) Append(ctx context.Context, event *events.RawEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identityKey(event)
	if id, dup := s.seen[key]; dup {
		event.ID = id
		return nil
	}

	clone := *event
	clone.ID = s.nextID
	s.nextID++
	s.seen[key] = clone.ID
	s.events = append(s.events, &clone)
	event.ID = clone.ID
	return nil
}

func (s *InMemoryEventStore) AppendBatch(ctx context.Context, batch []*events.RawEvent) error {
	for _, event := range batch {
		if err := s.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryEventStore) Scan(ctx context.Context, params events.ScanParams) ([]*events.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*events.RawEvent
	for _, event := range s.events {
		if params.CustomerID != "" && event.CustomerID != params.CustomerID {
			continue
		}
		if params.From != nil && event.TS.Before(*params.From) {
			continue
		}
		if params.To != nil && !event.TS.Before(*params.To) {
			continue
		}
		clone := *event
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TS.Equal(result[j].TS) {
			return result[i].TS.Before(result[j].TS)
		}
		return result[i].ID < result[j].ID
	})
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

func (s *InMemoryEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*events.RawEvent
	var deleted int64
	for _, event := range s.events {
		if event.TS.Before(cutoff) {
			delete(s.seen, identityKey(event))
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return deleted, nil
}
