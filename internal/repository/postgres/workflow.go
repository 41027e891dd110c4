package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kachi-io/kachi/internal/domain/workflow"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/types"
)

type WorkflowRepository struct {
	client *Client
	logger *logger.Logger
}

func NewWorkflowRepository(client *Client, log *logger.Logger) *WorkflowRepository {
	return &WorkflowRepository{client: client, logger: log}
}

func (r *WorkflowRepository) CreateDefinition(ctx context.Context, def *workflow.Definition) error {
	schema, err := json.Marshal(def.Schema)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	_, err = r.client.DB.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, key, version, schema, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		def.ID, def.Key, def.Version, schema, def.Active, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewErrorf("workflow definition %s v%d already exists", def.Key, def.Version).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *WorkflowRepository) GetDefinition(ctx context.Context, key string, version int) (*workflow.Definition, error) {
	var (
		def    workflow.Definition
		schema []byte
	)
	err := r.client.DB.QueryRowxContext(ctx, `
		SELECT id, key, version, schema, active, created_at, updated_at
		FROM workflow_definitions WHERE key = $1 AND version = $2`,
		key, version,
	).Scan(&def.ID, &def.Key, &def.Version, &schema, &def.Active,
		&def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("workflow definition %s v%d not found", key, version).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if err := json.Unmarshal(schema, &def.Schema); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &def, nil
}

func (r *WorkflowRepository) CreateRun(ctx context.Context, run *workflow.Run) error {
	metadata, err := json.Marshal(orEmptyMetadata(run.Metadata))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	_, err = r.client.DB.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, customer_id, definition_id, started_at, ended_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.CustomerID, run.DefinitionID, run.StartedAt.UTC(),
		nullableTime(run.EndedAt), run.Status, metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewErrorf("workflow run %s already exists", run.ID).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *WorkflowRepository) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	run, err := r.scanRun(r.client.DB.QueryRowxContext(ctx, `
		SELECT id, customer_id, definition_id, started_at, ended_at, status, metadata
		FROM workflow_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("workflow run %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return run, err
}

func (r *WorkflowRepository) FinishRun(ctx context.Context, id string, endedAt time.Time, status types.WorkflowRunStatus) error {
	res, err := r.client.DB.ExecContext(ctx, `
		UPDATE workflow_runs SET ended_at = $2, status = $3
		WHERE id = $1 AND status = $4`,
		id, endedAt.UTC(), status, types.WorkflowRunStatusRunning,
	)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewErrorf("workflow run %s is not running", id).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func (r *WorkflowRepository) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, customer_id, definition_id, started_at, ended_at, status, metadata
		FROM workflow_runs WHERE 1=1`)
	var args []any

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		fmt.Fprintf(&sb, " AND customer_id = $%d", len(args))
	}
	if filter.StartedIn != nil {
		args = append(args, filter.StartedIn.Start.UTC())
		fmt.Fprintf(&sb, " AND started_at >= $%d", len(args))
		args = append(args, filter.StartedIn.End.UTC())
		fmt.Fprintf(&sb, " AND started_at < $%d", len(args))
	}
	sb.WriteString(" ORDER BY started_at, id")

	rows, err := r.client.DB.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		run      workflow.Run
		endedAt  sql.NullTime
		metadata []byte
	)
	err := row.Scan(&run.ID, &run.CustomerID, &run.DefinitionID, &run.StartedAt,
		&endedAt, &run.Status, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &run, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
