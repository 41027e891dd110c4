package service

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/costledger"
	"github.com/kachi-io/kachi/internal/domain/workflow"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// ProfitabilityScore buckets a margin percentage
type ProfitabilityScore string

const (
	ScoreExcellent ProfitabilityScore = "excellent"
	ScoreGood      ProfitabilityScore = "good"
	ScoreFair      ProfitabilityScore = "fair"
	ScorePoor      ProfitabilityScore = "poor"
	ScoreLoss      ProfitabilityScore = "loss"
)

// COGSBreakdown is the per-period cost summary for one customer
type COGSBreakdown struct {
	CustomerID string                             `json:"customer_id"`
	Period     types.Window                       `json:"period"`
	Total      decimal.Decimal                    `json:"total"`
	ByType     map[types.CostType]decimal.Decimal `json:"by_type"`
	RunCount   int                                `json:"run_count"`
}

// MarginAnalysis relates revenue to cost for one rated period
type MarginAnalysis struct {
	CustomerID    string             `json:"customer_id"`
	Period        types.Window       `json:"period"`
	Revenue       decimal.Decimal    `json:"revenue"`
	COGS          decimal.Decimal    `json:"cogs"`
	Margin        decimal.Decimal    `json:"margin"`
	MarginPercent decimal.Decimal    `json:"margin_percent"`
	Score         ProfitabilityScore `json:"score"`
}

// COGSService aggregates the cost ledger against workflow runs
type COGSService interface {
	// PeriodCOGS sums cost records joined to the customer's runs started in
	// the period, grouped by cost type
	PeriodCOGS(ctx context.Context, customerID string, period types.Window) (*COGSBreakdown, error)

	// MeterCOGS sums the period's costs attributable to one meter via the
	// cost type allowlist
	MeterCOGS(ctx context.Context, customerID, meterKey string, period types.Window) (decimal.Decimal, error)

	// AnalyzeMargin scores the customer's rated period against its costs
	AnalyzeMargin(ctx context.Context, customerID string, period types.Window) (*MarginAnalysis, error)
}

type cogsService struct {
	ServiceParams
}

func NewCOGSService(params ServiceParams) COGSService {
	return &cogsService{ServiceParams: params}
}

func (s *cogsService) PeriodCOGS(ctx context.Context, customerID string, period types.Window) (*COGSBreakdown, error) {
	records, runCount, err := s.periodRecords(ctx, customerID, period, nil)
	if err != nil {
		return nil, err
	}

	breakdown := &COGSBreakdown{
		CustomerID: customerID,
		Period:     period,
		ByType:     make(map[types.CostType]decimal.Decimal),
		RunCount:   runCount,
	}
	for _, record := range records {
		breakdown.Total = breakdown.Total.Add(record.CostAmount)
		breakdown.ByType[record.CostType] = breakdown.ByType[record.CostType].Add(record.CostAmount)
	}
	return breakdown, nil
}

func (s *cogsService) MeterCOGS(ctx context.Context, customerID, meterKey string, period types.Window) (decimal.Decimal, error) {
	records, _, err := s.periodRecords(ctx, customerID, period, types.CostTypesForMeter(meterKey))
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.CostAmount)
	}
	return total, nil
}

func (s *cogsService) periodRecords(ctx context.Context, customerID string, period types.Window, costTypes []types.CostType) ([]*costledger.CostRecord, int, error) {
	runs, err := s.WorkflowRepo.ListRuns(ctx, workflow.RunFilter{
		CustomerID: customerID,
		StartedIn:  &period,
	})
	if err != nil {
		return nil, 0, err
	}
	if len(runs) == 0 {
		return nil, 0, nil
	}

	runIDs := lo.Map(runs, func(run *workflow.Run, _ int) string { return run.ID })
	records, err := s.CostLedgerRepo.List(ctx, costledger.Filter{
		WorkflowRunIDs: runIDs,
		CostTypes:      costTypes,
	})
	if err != nil {
		return nil, 0, err
	}
	return records, len(runs), nil
}

func (s *cogsService) AnalyzeMargin(ctx context.Context, customerID string, period types.Window) (*MarginAnalysis, error) {
	rated, err := s.RatedUsageRepo.Get(ctx, customerID, period)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewErrorf("period for %s has not been rated yet", customerID).
				WithHint("Run rating before requesting margin analysis").
				Mark(ierr.ErrInvalidOperation)
		}
		return nil, err
	}

	analysis := &MarginAnalysis{
		CustomerID: customerID,
		Period:     period,
		Revenue:    rated.Total,
		COGS:       rated.COGS,
		Margin:     rated.Margin,
	}
	if rated.Total.IsPositive() {
		analysis.MarginPercent = rated.Margin.Div(rated.Total).Mul(decimal.NewFromInt(100))
	} else if rated.COGS.IsPositive() {
		analysis.MarginPercent = decimal.NewFromInt(-100)
	}
	analysis.Score = scoreMargin(analysis.MarginPercent)
	return analysis, nil
}

func scoreMargin(marginPercent decimal.Decimal) ProfitabilityScore {
	switch {
	case marginPercent.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return ScoreExcellent
	case marginPercent.GreaterThanOrEqual(decimal.NewFromInt(30)):
		return ScoreGood
	case marginPercent.GreaterThanOrEqual(decimal.NewFromInt(15)):
		return ScoreFair
	case marginPercent.GreaterThanOrEqual(decimal.Zero):
		return ScorePoor
	default:
		return ScoreLoss
	}
}
