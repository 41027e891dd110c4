package service

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/testutil"
)

type CustomerServiceSuite struct {
	testutil.BaseServiceSuite
	service CustomerService
}

func TestCustomerService(t *testing.T) {
	suite.Run(t, new(CustomerServiceSuite))
}

func (s *CustomerServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.service = NewCustomerService(ServiceParams{
		Logger:       s.GetLogger(),
		Config:       s.GetConfig(),
		CustomerRepo: s.GetStores().Customers,
	})
}

func (s *CustomerServiceSuite) TestCreateGeneratesIDAndDefaults() {
	c, err := s.service.CreateCustomer(testutil.SetupContext(), &dto.CreateCustomerRequest{
		DisplayName: "Acme Agents",
	})
	s.Require().NoError(err)
	s.NotEmpty(c.ID)
	s.Equal("USD", c.Currency)
	s.True(c.Active)
}

func (s *CustomerServiceSuite) TestCreateKeepsProvidedID() {
	id := "A1B2C3D4-0000-4000-8000-00000000000A"
	c, err := s.service.CreateCustomer(testutil.SetupContext(), &dto.CreateCustomerRequest{
		ID:          id,
		DisplayName: "Acme Agents",
		Currency:    "EUR",
	})
	s.Require().NoError(err)
	// ids normalize to lowercase canonical form
	s.Equal("a1b2c3d4-0000-4000-8000-00000000000a", c.ID)
	s.Equal("EUR", c.Currency)
}

func (s *CustomerServiceSuite) TestCreateRejectsMalformedID() {
	_, err := s.service.CreateCustomer(testutil.SetupContext(), &dto.CreateCustomerRequest{
		ID:          "cust-123",
		DisplayName: "Acme Agents",
	})
	s.True(ierr.IsValidation(err))
}

func (s *CustomerServiceSuite) TestCreateRejectsDuplicateID() {
	req := &dto.CreateCustomerRequest{
		ID:          "a1b2c3d4-0000-4000-8000-00000000000b",
		DisplayName: "Acme Agents",
	}
	_, err := s.service.CreateCustomer(testutil.SetupContext(), req)
	s.Require().NoError(err)

	_, err = s.service.CreateCustomer(testutil.SetupContext(), req)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *CustomerServiceSuite) TestDeactivateRemovesFromActiveList() {
	c, err := s.service.CreateCustomer(testutil.SetupContext(), &dto.CreateCustomerRequest{
		DisplayName: "Acme Agents",
	})
	s.Require().NoError(err)

	active, err := s.service.ListActiveCustomers(testutil.SetupContext())
	s.Require().NoError(err)
	s.Len(active, 1)

	s.Require().NoError(s.service.DeactivateCustomer(testutil.SetupContext(), c.ID))

	active, err = s.service.ListActiveCustomers(testutil.SetupContext())
	s.Require().NoError(err)
	s.Empty(active)

	// the customer itself survives deactivation
	got, err := s.service.GetCustomer(testutil.SetupContext(), c.ID)
	s.Require().NoError(err)
	s.False(got.Active)
}

func (s *CustomerServiceSuite) TestDeactivateUnknownCustomer() {
	err := s.service.DeactivateCustomer(testutil.SetupContext(), "a1b2c3d4-ffff-4000-8000-000000000099")
	s.True(ierr.IsNotFound(err))
}
