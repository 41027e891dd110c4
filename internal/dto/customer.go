package dto

import (
	"github.com/kachi-io/kachi/internal/validator"
)

// CreateCustomerRequest registers a new billable account. ID is optional;
// when omitted a fresh UUID is assigned. Telemetry references customers by
// this id, so it must be a plain UUID.
type CreateCustomerRequest struct {
	ID                string `json:"id,omitempty"`
	DisplayName       string `json:"display_name" validate:"required"`
	Currency          string `json:"currency,omitempty"`
	ExternalBillingID string `json:"external_billing_id,omitempty"`
}

func (r *CreateCustomerRequest) Validate() error {
	return validator.ValidateRequest(r)
}
