package outcome

import (
	"context"
	"time"

	"github.com/kachi-io/kachi/internal/types"
)

// Status is the verification lifecycle state. Transitions are one-way:
// pending may move to verified or reversed, nothing moves after that.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusReversed Status = "reversed"
)

// Verification tracks one outcome through the settlement holdback window.
type Verification struct {
	ID            string `db:"id" json:"id"`
	WorkflowRunID string `db:"workflow_run_id" json:"workflow_run_id"`
	OutcomeKey    string `db:"outcome_key" json:"outcome_key"`

	// ExternalSystem and ExternalRef locate the outcome in the verifying
	// system; "internal" outcomes are auto-verified on creation.
	ExternalSystem string `db:"external_system" json:"external_system"`
	ExternalRef    string `db:"external_ref" json:"external_ref"`

	Status Status `db:"status" json:"status"`

	// HoldbackUntil is the earliest instant the outcome may settle
	HoldbackUntil  time.Time `db:"holdback_until" json:"holdback_until"`
	SettlementDays int       `db:"settlement_days" json:"settlement_days"`

	VerifiedAt     *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	ReversalReason string     `db:"reversal_reason" json:"reversal_reason,omitempty"`

	Metadata types.Metadata `json:"metadata,omitempty"`

	types.BaseModel
}

// MatchesConditions reports whether every condition key/value pair is
// present in the verification metadata. Missing keys exclude the record.
func (v *Verification) MatchesConditions(conditions map[string]string) bool {
	if len(conditions) == 0 {
		return true
	}
	if len(v.Metadata) == 0 {
		return false
	}
	for key, expected := range conditions {
		if v.Metadata[key] != expected {
			return false
		}
	}
	return true
}

// SettledParams bounds a settled-outcome query
type SettledParams struct {
	CustomerID string
	OutcomeKey string
	// Period filters on the associated run's started_at in [Start, End)
	Period types.Window
	// Now is the settlement reference instant; holdback_until must be ≤ Now
	Now time.Time
	// Conditions must all match the verification metadata
	Conditions map[string]string
}

type Repository interface {
	Create(ctx context.Context, v *Verification) error
	Get(ctx context.Context, id string) (*Verification, error)

	// UpdateStatus transitions a verification out of pending with
	// compare-and-set semantics: the update applies only while the stored
	// status is still pending, otherwise ErrVersionConflict is returned.
	UpdateStatus(ctx context.Context, id string, status Status, verifiedAt *time.Time, reversalReason string) error

	// OldestPendingByRef returns the oldest pending verification for the
	// (external_system, external_ref) pair, or ErrNotFound
	OldestPendingByRef(ctx context.Context, externalSystem, externalRef string) (*Verification, error)

	// ListPending returns pending verifications, optionally filtered by
	// external system
	ListPending(ctx context.Context, externalSystem string) ([]*Verification, error)

	// ListSettled returns verifications that are verified, past their
	// holdback, whose run started in the period, and whose metadata matches
	// all conditions
	ListSettled(ctx context.Context, params SettledParams) ([]*Verification, error)
}
