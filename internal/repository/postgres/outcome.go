package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/kachi-io/kachi/internal/domain/outcome"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

type OutcomeRepository struct {
	client *Client
	logger *logger.Logger
}

func NewOutcomeRepository(client *Client, log *logger.Logger) *OutcomeRepository {
	return &OutcomeRepository{client: client, logger: log}
}

const outcomeColumns = `
	id, workflow_run_id, outcome_key, external_system, external_ref, status,
	holdback_until, settlement_days, verified_at, reversal_reason, metadata,
	created_at, updated_at`

func (r *OutcomeRepository) Create(ctx context.Context, v *outcome.Verification) error {
	metadata, err := json.Marshal(orEmptyMetadata(v.Metadata))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	_, err = r.client.DB.ExecContext(ctx, `
		INSERT INTO outcome_verifications
			(id, workflow_run_id, outcome_key, external_system, external_ref, status,
			 holdback_until, settlement_days, verified_at, reversal_reason, metadata,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.WorkflowRunID, v.OutcomeKey, v.ExternalSystem, v.ExternalRef, v.Status,
		v.HoldbackUntil.UTC(), v.SettlementDays, nullableTime(v.VerifiedAt),
		v.ReversalReason, metadata, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewErrorf("verification %s already exists", v.ID).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *OutcomeRepository) Get(ctx context.Context, id string) (*outcome.Verification, error) {
	v, err := r.scanVerification(r.client.DB.QueryRowxContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcome_verifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("verification %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return v, err
}

// UpdateStatus transitions out of pending. The WHERE clause carries the
// compare-and-set: a row that already left pending is untouched and the
// caller gets ErrVersionConflict.
func (r *OutcomeRepository) UpdateStatus(ctx context.Context, id string, status outcome.Status, verifiedAt *time.Time, reversalReason string) error {
	res, err := r.client.DB.ExecContext(ctx, `
		UPDATE outcome_verifications
		SET status = $2, verified_at = $3, reversal_reason = $4, updated_at = $5
		WHERE id = $1 AND status = $6`,
		id, status, nullableTime(verifiedAt), reversalReason, time.Now().UTC(),
		outcome.StatusPending,
	)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewErrorf("verification %s is not pending", id).
			WithHint("Verification status transitions are one-way").
			Mark(ierr.ErrVersionConflict)
	}
	return nil
}

func (r *OutcomeRepository) OldestPendingByRef(ctx context.Context, externalSystem, externalRef string) (*outcome.Verification, error) {
	v, err := r.scanVerification(r.client.DB.QueryRowxContext(ctx, `
		SELECT `+outcomeColumns+` FROM outcome_verifications
		WHERE external_system = $1 AND external_ref = $2 AND status = $3
		ORDER BY created_at, id LIMIT 1`,
		externalSystem, externalRef, outcome.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("no pending verification for %s/%s", externalSystem, externalRef).
			Mark(ierr.ErrNotFound)
	}
	return v, err
}

func (r *OutcomeRepository) ListPending(ctx context.Context, externalSystem string) ([]*outcome.Verification, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcome_verifications WHERE status = $1`
	args := []any{outcome.StatusPending}
	if externalSystem != "" {
		query += ` AND external_system = $2`
		args = append(args, externalSystem)
	}
	query += ` ORDER BY created_at, id`
	return r.listVerifications(ctx, query, args...)
}

func (r *OutcomeRepository) ListSettled(ctx context.Context, params outcome.SettledParams) ([]*outcome.Verification, error) {
	verifications, err := r.listVerifications(ctx, `
		SELECT `+outcomeColumns+` FROM outcome_verifications v
		WHERE v.status = $1
		  AND v.outcome_key = $2
		  AND v.holdback_until <= $3
		  AND EXISTS (
			SELECT 1 FROM workflow_runs wr
			WHERE wr.id = v.workflow_run_id
			  AND wr.customer_id = $4
			  AND wr.started_at >= $5 AND wr.started_at < $6
		  )
		ORDER BY v.created_at, v.id`,
		outcome.StatusVerified, params.OutcomeKey, params.Now.UTC(),
		params.CustomerID, params.Period.Start.UTC(), params.Period.End.UTC(),
	)
	if err != nil {
		return nil, err
	}

	// condition matching happens here so the semantics stay with the domain
	var settled []*outcome.Verification
	for _, v := range verifications {
		if v.MatchesConditions(params.Conditions) {
			settled = append(settled, v)
		}
	}
	return settled, nil
}

func (r *OutcomeRepository) listVerifications(ctx context.Context, query string, args ...any) ([]*outcome.Verification, error) {
	rows, err := r.client.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*outcome.Verification
	for rows.Next() {
		v, err := r.scanVerification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *OutcomeRepository) scanVerification(row rowScanner) (*outcome.Verification, error) {
	var (
		v          outcome.Verification
		verifiedAt sql.NullTime
		metadata   []byte
	)
	err := row.Scan(&v.ID, &v.WorkflowRunID, &v.OutcomeKey, &v.ExternalSystem,
		&v.ExternalRef, &v.Status, &v.HoldbackUntil, &v.SettlementDays,
		&verifiedAt, &v.ReversalReason, &metadata, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		v.VerifiedAt = &t
	}
	if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &v, nil
}
