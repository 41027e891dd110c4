package postgres

import (
	"context"
	"encoding/json"

	"github.com/kachi-io/kachi/internal/domain/auditlog"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

type AuditLogRepository struct {
	client *Client
	logger *logger.Logger
}

func NewAuditLogRepository(client *Client, log *logger.Logger) *AuditLogRepository {
	return &AuditLogRepository{client: client, logger: log}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *auditlog.Entry) error {
	details, err := json.Marshal(orEmptyDetails(entry.Details))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	err = r.client.DB.QueryRowxContext(ctx, `
		INSERT INTO audit_log (ts, actor, action, subject, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		entry.TS.UTC(), entry.Actor, entry.Action, entry.Subject, details,
	).Scan(&entry.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append audit entry").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *AuditLogRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*auditlog.Entry, error) {
	query := `
		SELECT id, ts, actor, action, subject, details
		FROM audit_log WHERE subject = $1
		ORDER BY ts DESC, id DESC`
	args := []any{subject}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.client.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var entries []*auditlog.Entry
	for rows.Next() {
		var (
			entry   auditlog.Entry
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.TS, &entry.Actor, &entry.Action,
			&entry.Subject, &details); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
