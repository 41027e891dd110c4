package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kachi-io/kachi/internal/domain/costledger"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

type CostLedgerRepository struct {
	client *Client
	logger *logger.Logger
}

func NewCostLedgerRepository(client *Client, log *logger.Logger) *CostLedgerRepository {
	return &CostLedgerRepository{client: client, logger: log}
}

func (r *CostLedgerRepository) Append(ctx context.Context, record *costledger.CostRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	details, err := json.Marshal(orEmptyDetails(record.Details))
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	err = r.client.DB.QueryRowxContext(ctx, `
		INSERT INTO cost_ledger (workflow_run_id, ts, cost_amount, cost_type, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		record.WorkflowRunID, record.TS.UTC(), record.CostAmount, record.CostType, details,
	).Scan(&record.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append cost record").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *CostLedgerRepository) List(ctx context.Context, filter costledger.Filter) ([]*costledger.CostRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, workflow_run_id, ts, cost_amount, cost_type, details
		FROM cost_ledger WHERE 1=1`)
	var args []any

	if len(filter.WorkflowRunIDs) > 0 {
		args = append(args, pq.Array(filter.WorkflowRunIDs))
		fmt.Fprintf(&sb, " AND workflow_run_id = ANY($%d)", len(args))
	}
	if filter.TSRange != nil {
		args = append(args, filter.TSRange.Start.UTC())
		fmt.Fprintf(&sb, " AND ts >= $%d", len(args))
		args = append(args, filter.TSRange.End.UTC())
		fmt.Fprintf(&sb, " AND ts < $%d", len(args))
	}
	if len(filter.CostTypes) > 0 {
		costTypes := make([]string, len(filter.CostTypes))
		for i, ct := range filter.CostTypes {
			costTypes[i] = string(ct)
		}
		args = append(args, pq.Array(costTypes))
		fmt.Fprintf(&sb, " AND cost_type = ANY($%d)", len(args))
	}
	sb.WriteString(" ORDER BY ts, id")

	rows, err := r.client.DB.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list cost records").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var records []*costledger.CostRecord
	for rows.Next() {
		var (
			record  costledger.CostRecord
			details []byte
		)
		if err := rows.Scan(&record.ID, &record.WorkflowRunID, &record.TS,
			&record.CostAmount, &record.CostType, &details); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if err := json.Unmarshal(details, &record.Details); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

func orEmptyDetails(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}
	return details
}
