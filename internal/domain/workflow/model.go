package workflow

import (
	"context"
	"time"

	"github.com/kachi-io/kachi/internal/types"
)

// Definition is a versioned workflow definition. Unique by (key, version)
// and immutable once written.
type Definition struct {
	ID      string         `db:"id" json:"id"`
	Key     string         `db:"key" json:"key"`
	Version int            `db:"version" json:"version"`
	Schema  map[string]any `json:"schema,omitempty"`
	Active  bool           `db:"active" json:"active"`

	types.BaseModel
}

// Run is a single workflow execution, created at span start and finalized
// at span end.
type Run struct {
	ID           string                  `db:"id" json:"id"`
	CustomerID   string                  `db:"customer_id" json:"customer_id"`
	DefinitionID string                  `db:"definition_id" json:"definition_id"`
	StartedAt    time.Time               `db:"started_at" json:"started_at"`
	EndedAt      *time.Time              `db:"ended_at" json:"ended_at,omitempty"`
	Status       types.WorkflowRunStatus `db:"status" json:"status"`
	Metadata     types.Metadata          `json:"metadata,omitempty"`
}

// RunFilter bounds a run listing
type RunFilter struct {
	CustomerID string
	// StartedIn filters to runs whose started_at lies in [Start, End)
	StartedIn *types.Window
}

type Repository interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, key string, version int) (*Definition, error)

	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// FinishRun finalizes a running run with its end time and terminal status
	FinishRun(ctx context.Context, id string, endedAt time.Time, status types.WorkflowRunStatus) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}
