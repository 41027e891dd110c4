package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/kachi-io/kachi/internal/domain/auditlog"
)

// InMemoryAuditLogStore implements auditlog.Repository for tests
type InMemoryAuditLogStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []*auditlog.Entry
}

func NewInMemoryAuditLogStore() *InMemoryAuditLogStore {
	return &InMemoryAuditLogStore{nextID: 1}
}

func (s *InMemoryAuditLogStore) Append(ctx context.Context, entry *auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	clone.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, &clone)
	entry.ID = clone.ID
	return nil
}

func (s *InMemoryAuditLogStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*auditlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*auditlog.Entry
	for _, entry := range s.entries {
		if entry.Subject == subject {
			clone := *entry
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TS.Equal(result[j].TS) {
			return result[i].TS.After(result[j].TS)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
