package service

import (
	"context"
	"time"

	"github.com/kachi-io/kachi/internal/domain/outcome"
	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/types"
)

// OutcomeService manages the outcome verification lifecycle: creation with
// settlement holdback, auto or external verification, reversal, settlement.
type OutcomeService interface {
	// RecordOutcome creates a verification for a submitted outcome. Outcomes
	// without external verification configured verify immediately; the
	// settlement holdback still applies.
	RecordOutcome(ctx context.Context, customerID string, req *dto.OutcomeEventRequest) (*outcome.Verification, error)

	// ProcessExternalVerification resolves the oldest pending verification
	// for (system, ref). A repeat for an already-resolved ref is a logged
	// no-op, external systems retry freely.
	ProcessExternalVerification(ctx context.Context, externalSystem, externalRef string, verified bool, reason string) error

	// ReverseOutcome reverses a pending verification
	ReverseOutcome(ctx context.Context, id, reason string) error

	// SettledOutcomes returns verified outcomes past holdback whose run
	// started inside the period and whose metadata matches the conditions
	SettledOutcomes(ctx context.Context, customerID, meterKey string, period types.Window, now time.Time, cfg rating.SuccessFeeConfig) ([]*outcome.Verification, error)
}

type outcomeService struct {
	ServiceParams
	policies PolicyProvider
}

func NewOutcomeService(params ServiceParams, policies PolicyProvider) OutcomeService {
	return &outcomeService{ServiceParams: params, policies: policies}
}

func (s *outcomeService) RecordOutcome(ctx context.Context, customerID string, req *dto.OutcomeEventRequest) (*outcome.Verification, error) {
	meterKey, ok := meter.OutcomeMeterForSubmission(req.EventName, req.OutcomeType)
	if !ok {
		return nil, ierr.NewErrorf("outcome %q does not map to an outcome meter", req.OutcomeType).
			WithHint("The outcome type or event name must map to an outcome meter").
			Mark(ierr.ErrValidation)
	}

	policy, err := s.policies.PolicyFor(ctx, customerID)
	if err != nil {
		return nil, err
	}
	cfg := policy.SuccessFees[meterKey]

	now := time.Now().UTC()
	v := &outcome.Verification{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_VERIFICATION),
		WorkflowRunID:  req.WorkflowRunID,
		OutcomeKey:     meterKey,
		ExternalSystem: req.ExternalSystem,
		ExternalRef:    req.ExternalRef,
		Status:         outcome.StatusPending,
		HoldbackUntil:  now.AddDate(0, 0, cfg.SettlementDays),
		SettlementDays: cfg.SettlementDays,
		Metadata:       types.Metadata(req.Metadata),
		BaseModel:      types.GetDefaultBaseModel(),
	}
	if err := s.OutcomeRepo.Create(ctx, v); err != nil {
		return nil, err
	}

	if !cfg.ExternalVerification {
		verifiedAt := now
		if err := s.OutcomeRepo.UpdateStatus(ctx, v.ID, outcome.StatusVerified, &verifiedAt, ""); err != nil {
			return nil, err
		}
		v.Status = outcome.StatusVerified
		v.VerifiedAt = &verifiedAt
	}

	s.Logger.Infow("outcome recorded",
		"verification_id", v.ID,
		"customer_id", customerID,
		"outcome_key", meterKey,
		"status", v.Status,
		"holdback_until", v.HoldbackUntil,
	)
	return v, nil
}

func (s *outcomeService) ProcessExternalVerification(ctx context.Context, externalSystem, externalRef string, verified bool, reason string) error {
	v, err := s.OutcomeRepo.OldestPendingByRef(ctx, externalSystem, externalRef)
	if ierr.IsNotFound(err) {
		s.Logger.Infow("external verification with no pending outcome, ignoring",
			"external_system", externalSystem,
			"external_ref", externalRef,
		)
		return nil
	}
	if err != nil {
		return err
	}

	if verified {
		now := time.Now().UTC()
		return s.OutcomeRepo.UpdateStatus(ctx, v.ID, outcome.StatusVerified, &now, "")
	}
	return s.OutcomeRepo.UpdateStatus(ctx, v.ID, outcome.StatusReversed, nil, reason)
}

func (s *outcomeService) ReverseOutcome(ctx context.Context, id, reason string) error {
	if reason == "" {
		return ierr.NewError("reversal reason is required").
			Mark(ierr.ErrValidation)
	}
	return s.OutcomeRepo.UpdateStatus(ctx, id, outcome.StatusReversed, nil, reason)
}

func (s *outcomeService) SettledOutcomes(ctx context.Context, customerID, meterKey string, period types.Window, now time.Time, cfg rating.SuccessFeeConfig) ([]*outcome.Verification, error) {
	return s.OutcomeRepo.ListSettled(ctx, outcome.SettledParams{
		CustomerID: customerID,
		OutcomeKey: meterKey,
		Period:     period,
		Now:        now,
		Conditions: cfg.Conditions,
	})
}
