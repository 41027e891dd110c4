package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/kachi-io/kachi/internal/domain/costledger"
	"github.com/kachi-io/kachi/internal/types"
)

// InMemoryCostLedgerStore implements costledger.Repository for tests
type InMemoryCostLedgerStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []*costledger.CostRecord
}

func NewInMemoryCostLedgerStore() *InMemoryCostLedgerStore {
	return &InMemoryCostLedgerStore{nextID: 1}
}

func (s *InMemoryCostLedgerStore) Append(ctx context.Context, record *costledger.CostRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.ID = s.nextID
	s.nextID++
	s.records = append(s.records, &clone)
	record.ID = clone.ID
	return nil
}

func (s *InMemoryCostLedgerStore) List(ctx context.Context, filter costledger.Filter) ([]*costledger.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runSet := make(map[string]bool, len(filter.WorkflowRunIDs))
	for _, id := range filter.WorkflowRunIDs {
		runSet[id] = true
	}
	typeSet := make(map[types.CostType]bool, len(filter.CostTypes))
	for _, ct := range filter.CostTypes {
		typeSet[ct] = true
	}

	var result []*costledger.CostRecord
	for _, record := range s.records {
		if len(runSet) > 0 && !runSet[record.WorkflowRunID] {
			continue
		}
		if filter.TSRange != nil && !filter.TSRange.Contains(record.TS) {
			continue
		}
		if len(typeSet) > 0 && !typeSet[record.CostType] {
			continue
		}
		clone := *record
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TS.Equal(result[j].TS) {
			return result[i].TS.Before(result[j].TS)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
