package service

import (
	"context"

	"github.com/kachi-io/kachi/internal/domain/rating"
)

// PolicyProvider resolves the rating policy in force for a customer
type PolicyProvider interface {
	PolicyFor(ctx context.Context, customerID string) (rating.Policy, error)
}

// StaticPolicyProvider serves per-customer overrides over a default policy
type StaticPolicyProvider struct {
	Default     rating.Policy
	PerCustomer map[string]rating.Policy
}

func NewStaticPolicyProvider(defaultPolicy rating.Policy) *StaticPolicyProvider {
	return &StaticPolicyProvider{
		Default:     defaultPolicy,
		PerCustomer: make(map[string]rating.Policy),
	}
}

func (p *StaticPolicyProvider) SetPolicy(customerID string, policy rating.Policy) {
	p.PerCustomer[customerID] = policy
}

func (p *StaticPolicyProvider) PolicyFor(ctx context.Context, customerID string) (rating.Policy, error) {
	if policy, ok := p.PerCustomer[customerID]; ok {
		return policy, nil
	}
	return p.Default, nil
}
