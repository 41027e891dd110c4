package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/kachi-io/kachi/internal/domain/customer"
	ierr "github.com/kachi-io/kachi/internal/errors"
)

// InMemoryCustomerStore implements customer.Repository for tests
type InMemoryCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*customer.Customer
}

func NewInMemoryCustomerStore() *InMemoryCustomerStore {
	return &InMemoryCustomerStore{customers: make(map[string]*customer.Customer)}
}

func (s *InMemoryCustomerStore) Create(ctx context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[c.ID]; exists {
		return ierr.NewErrorf("customer %s already exists", c.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	clone := *c
	s.customers[c.ID] = &clone
	return nil
}

func (s *InMemoryCustomerStore) Get(ctx context.Context, id string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, ierr.NewErrorf("customer %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (s *InMemoryCustomerStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.customers[id]
	return ok, nil
}

func (s *InMemoryCustomerStore) ListActive(ctx context.Context) ([]*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*customer.Customer
	for _, c := range s.customers {
		if c.Active {
			clone := *c
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *InMemoryCustomerStore) Update(ctx context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[c.ID]; !ok {
		return ierr.NewErrorf("customer %s not found", c.ID).
			Mark(ierr.ErrNotFound)
	}
	clone := *c
	s.customers[c.ID] = &clone
	return nil
}
