package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// InMemoryRatedUsageStore implements ratedusage.Repository for tests
type InMemoryRatedUsageStore struct {
	mu   sync.RWMutex
	rows map[string]*ratedusage.RatedUsage
}

func NewInMemoryRatedUsageStore() *InMemoryRatedUsageStore {
	return &InMemoryRatedUsageStore{rows: make(map[string]*ratedusage.RatedUsage)}
}

func periodKey(customerID string, period types.Window) string {
	return fmt.Sprintf("%s|%d|%d", customerID, period.Start.UTC().UnixNano(), period.End.UTC().UnixNano())
}

func (s *InMemoryRatedUsageStore) Upsert(ctx context.Context, ru *ratedusage.RatedUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *ru
	clone.ExternalPushedAt = nil
	s.rows[periodKey(ru.CustomerID, ru.Period)] = &clone
	return nil
}

func (s *InMemoryRatedUsageStore) Get(ctx context.Context, customerID string, period types.Window) (*ratedusage.RatedUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ru, ok := s.rows[periodKey(customerID, period)]
	if !ok {
		return nil, ierr.NewErrorf("no rated usage for %s in period", customerID).
			Mark(ierr.ErrNotFound)
	}
	clone := *ru
	return &clone, nil
}

func (s *InMemoryRatedUsageStore) List(ctx context.Context, customerID string, limit int) ([]*ratedusage.RatedUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ratedusage.RatedUsage
	for _, ru := range s.rows {
		if ru.CustomerID == customerID {
			clone := *ru
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period.Start.After(result[j].Period.Start)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryRatedUsageStore) MarkPushed(ctx context.Context, id string, pushedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ru := range s.rows {
		if ru.ID == id {
			t := pushedAt
			ru.ExternalPushedAt = &t
			return nil
		}
	}
	return ierr.NewErrorf("rated usage %s not found", id).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryRatedUsageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, ru := range s.rows {
		if ru.Period.End.Before(cutoff) {
			delete(s.rows, key)
			deleted++
		}
	}
	return deleted, nil
}
