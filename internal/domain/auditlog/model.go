package auditlog

import (
	"context"
	"time"
)

// Entry is one append-only audit record. Manual adjustments, reprocess
// requests, and connector changes all land here.
type Entry struct {
	ID      int64          `db:"id" json:"id"`
	TS      time.Time      `db:"ts" json:"ts"`
	Actor   string         `db:"actor" json:"actor"`
	Action  string         `db:"action" json:"action"`
	Subject string         `db:"subject" json:"subject"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	ActionAdjustment  = "adjustment"
	ActionReprocess   = "reprocess"
	ActionRatingRun   = "rating_run"
	ActionConnectorOp = "connector_op"
)

type Repository interface {
	// Append adds an entry and populates its ID
	Append(ctx context.Context, entry *Entry) error

	// ListBySubject returns entries for one subject, newest first
	ListBySubject(ctx context.Context, subject string, limit int) ([]*Entry, error)
}
