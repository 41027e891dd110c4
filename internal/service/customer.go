package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// CustomerService manages billable accounts
type CustomerService interface {
	CreateCustomer(ctx context.Context, req *dto.CreateCustomerRequest) (*customer.Customer, error)
	GetCustomer(ctx context.Context, id string) (*customer.Customer, error)
	ListActiveCustomers(ctx context.Context) ([]*customer.Customer, error)
	DeactivateCustomer(ctx context.Context, id string) error
}

type customerService struct {
	ServiceParams
}

func NewCustomerService(params ServiceParams) CustomerService {
	return &customerService{ServiceParams: params}
}

func (s *customerService) CreateCustomer(ctx context.Context, req *dto.CreateCustomerRequest) (*customer.Customer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else {
		parsed, err := types.ParseCustomerID(id)
		if err != nil {
			return nil, ierr.NewErrorf("invalid customer id %q", id).
				WithHint("Customer ids must be plain UUIDs").
				Mark(ierr.ErrValidation)
		}
		id = parsed
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	c := &customer.Customer{
		ID:                id,
		DisplayName:       req.DisplayName,
		Currency:          currency,
		ExternalBillingID: req.ExternalBillingID,
		Active:            true,
		BaseModel:         types.GetDefaultBaseModel(),
	}
	if err := s.CustomerRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *customerService) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	return s.CustomerRepo.Get(ctx, id)
}

func (s *customerService) ListActiveCustomers(ctx context.Context) ([]*customer.Customer, error) {
	return s.CustomerRepo.ListActive(ctx)
}

func (s *customerService) DeactivateCustomer(ctx context.Context, id string) error {
	c, err := s.CustomerRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Active = false
	return s.CustomerRepo.Update(ctx, c)
}
