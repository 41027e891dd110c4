package dto

import (
	"time"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
	"github.com/kachi-io/kachi/internal/validator"
)

// VerificationWebhookRequest is the callback an external system posts to
// confirm or reject a pending outcome.
type VerificationWebhookRequest struct {
	ExternalSystem string `json:"external_system" validate:"required"`
	ExternalRef    string `json:"external_ref" validate:"required"`
	Verified       bool   `json:"verified"`
	Reason         string `json:"reason,omitempty"`
}

func (r *VerificationWebhookRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Verified && r.Reason == "" {
		return ierr.NewError("reason is required when rejecting an outcome").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ReverseOutcomeRequest reverses a pending outcome before settlement
type ReverseOutcomeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (r *ReverseOutcomeRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ReprocessRequest asks for a customer period to be re-derived from raw
// events after a rule or data fix.
type ReprocessRequest struct {
	CustomerID string    `json:"customer_id" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	End        time.Time `json:"end" validate:"required"`
	Actor      string    `json:"actor" validate:"required"`
	Reason     string    `json:"reason" validate:"required"`
}

func (r *ReprocessRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Start.Before(r.End) {
		return ierr.NewError("start must be before end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *ReprocessRequest) Period() types.Window {
	return types.NewWindow(r.Start, r.End)
}

// RatingRunRequest triggers an out-of-cycle rating run for one customer
type RatingRunRequest struct {
	CustomerID string    `json:"customer_id" validate:"required"`
	Start      time.Time `json:"start" validate:"required"`
	End        time.Time `json:"end" validate:"required"`
	Actor      string    `json:"actor" validate:"required"`
}

func (r *RatingRunRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Start.Before(r.End) {
		return ierr.NewError("start must be before end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *RatingRunRequest) Period() types.Window {
	return types.NewWindow(r.Start, r.End)
}
