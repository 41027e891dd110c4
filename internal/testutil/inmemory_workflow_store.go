package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kachi-io/kachi/internal/domain/workflow"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// InMemoryWorkflowStore implements workflow.Repository for tests
type InMemoryWorkflowStore struct {
	mu          sync.RWMutex
	definitions map[string]*workflow.Definition
	runs        map[string]*workflow.Run
}

func NewInMemoryWorkflowStore() *InMemoryWorkflowStore {
	return &InMemoryWorkflowStore{
		definitions: make(map[string]*workflow.Definition),
		runs:        make(map[string]*workflow.Run),
	}
}

func definitionKey(key string, version int) string {
	return fmt.Sprintf("%s@%d", key, version)
}

func (s *InMemoryWorkflowStore) CreateDefinition(ctx context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk := definitionKey(def.Key, def.Version)
	if _, exists := s.definitions[dk]; exists {
		return ierr.NewErrorf("workflow definition %s v%d already exists", def.Key, def.Version).
			Mark(ierr.ErrAlreadyExists)
	}
	clone := *def
	s.definitions[dk] = &clone
	return nil
}

func (s *InMemoryWorkflowStore) GetDefinition(ctx context.Context, key string, version int) (*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[definitionKey(key, version)]
	if !ok {
		return nil, ierr.NewErrorf("workflow definition %s v%d not found", key, version).
			Mark(ierr.ErrNotFound)
	}
	clone := *def
	return &clone, nil
}

func (s *InMemoryWorkflowStore) CreateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return ierr.NewErrorf("workflow run %s already exists", run.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *InMemoryWorkflowStore) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ierr.NewErrorf("workflow run %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	clone := *run
	return &clone, nil
}

func (s *InMemoryWorkflowStore) FinishRun(ctx context.Context, id string, endedAt time.Time, status types.WorkflowRunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ierr.NewErrorf("workflow run %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	if run.Status != types.WorkflowRunStatusRunning {
		return ierr.NewErrorf("workflow run %s is not running", id).
			Mark(ierr.ErrInvalidOperation)
	}
	ended := endedAt
	run.EndedAt = &ended
	run.Status = status
	return nil
}

func (s *InMemoryWorkflowStore) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*workflow.Run
	for _, run := range s.runs {
		if filter.CustomerID != "" && run.CustomerID != filter.CustomerID {
			continue
		}
		if filter.StartedIn != nil && !filter.StartedIn.Contains(run.StartedAt) {
			continue
		}
		clone := *run
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
