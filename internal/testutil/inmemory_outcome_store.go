package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kachi-io/kachi/internal/domain/outcome"
	ierr "github.com/kachi-io/kachi/internal/errors"
)

// InMemoryOutcomeStore implements outcome.Repository for tests. It needs the
// workflow store to resolve run ownership for settled-outcome queries.
type InMemoryOutcomeStore struct {
	mu            sync.RWMutex
	verifications map[string]*outcome.Verification
	workflows     *InMemoryWorkflowStore
}

func NewInMemoryOutcomeStore(workflows *InMemoryWorkflowStore) *InMemoryOutcomeStore {
	return &InMemoryOutcomeStore{
		verifications: make(map[string]*outcome.Verification),
		workflows:     workflows,
	}
}

func (s *InMemoryOutcomeStore) Create(ctx context.Context, v *outcome.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.verifications[v.ID]; exists {
		return ierr.NewErrorf("verification %s already exists", v.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	clone := *v
	s.verifications[v.ID] = &clone
	return nil
}

func (s *InMemoryOutcomeStore) Get(ctx context.Context, id string) (*outcome.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.verifications[id]
	if !ok {
		return nil, ierr.NewErrorf("verification %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	clone := *v
	return &clone, nil
}

func (s *InMemoryOutcomeStore) UpdateStatus(ctx context.Context, id string, status outcome.Status, verifiedAt *time.Time, reversalReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[id]
	if !ok {
		return ierr.NewErrorf("verification %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	if v.Status != outcome.StatusPending {
		return ierr.NewErrorf("verification %s is not pending", id).
			Mark(ierr.ErrVersionConflict)
	}
	v.Status = status
	v.VerifiedAt = verifiedAt
	v.ReversalReason = reversalReason
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryOutcomeStore) OldestPendingByRef(ctx context.Context, externalSystem, externalRef string) (*outcome.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest *outcome.Verification
	for _, v := range s.verifications {
		if v.Status != outcome.StatusPending ||
			v.ExternalSystem != externalSystem || v.ExternalRef != externalRef {
			continue
		}
		if oldest == nil || v.CreatedAt.Before(oldest.CreatedAt) ||
			(v.CreatedAt.Equal(oldest.CreatedAt) && v.ID < oldest.ID) {
			oldest = v
		}
	}
	if oldest == nil {
		return nil, ierr.NewErrorf("no pending verification for %s/%s", externalSystem, externalRef).
			Mark(ierr.ErrNotFound)
	}
	clone := *oldest
	return &clone, nil
}

func (s *InMemoryOutcomeStore) ListPending(ctx context.Context, externalSystem string) ([]*outcome.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*outcome.Verification
	for _, v := range s.verifications {
		if v.Status != outcome.StatusPending {
			continue
		}
		if externalSystem != "" && v.ExternalSystem != externalSystem {
			continue
		}
		clone := *v
		result = append(result, &clone)
	}
	sortVerifications(result)
	return result, nil
}

func (s *InMemoryOutcomeStore) ListSettled(ctx context.Context, params outcome.SettledParams) ([]*outcome.Verification, error) {
	s.mu.RLock()
	verifications := make([]*outcome.Verification, 0, len(s.verifications))
	for _, v := range s.verifications {
		clone := *v
		verifications = append(verifications, &clone)
	}
	s.mu.RUnlock()

	var settled []*outcome.Verification
	for _, v := range verifications {
		if v.Status != outcome.StatusVerified || v.OutcomeKey != params.OutcomeKey {
			continue
		}
		if v.HoldbackUntil.After(params.Now) {
			continue
		}
		run, err := s.workflows.GetRun(ctx, v.WorkflowRunID)
		if err != nil {
			continue
		}
		if run.CustomerID != params.CustomerID || !params.Period.Contains(run.StartedAt) {
			continue
		}
		if !v.MatchesConditions(params.Conditions) {
			continue
		}
		settled = append(settled, v)
	}
	sortVerifications(settled)
	return settled, nil
}

func sortVerifications(vs []*outcome.Verification) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.Before(vs[j].CreatedAt)
		}
		return vs[i].ID < vs[j].ID
	})
}
