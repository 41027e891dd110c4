package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/domain/costledger"
	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	"github.com/kachi-io/kachi/internal/domain/workflow"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/testutil"
	"github.com/kachi-io/kachi/internal/types"
)

type COGSServiceSuite struct {
	testutil.BaseServiceSuite
	service COGSService
	params  ServiceParams

	customerID string
	period     types.Window
}

func TestCOGSService(t *testing.T) {
	suite.Run(t, new(COGSServiceSuite))
}

func (s *COGSServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	stores := s.GetStores()
	s.params = ServiceParams{
		Logger:         s.GetLogger(),
		Config:         s.GetConfig(),
		WorkflowRepo:   stores.Workflows,
		CostLedgerRepo: stores.CostLedger,
		RatedUsageRepo: stores.RatedUsage,
	}
	s.service = NewCOGSService(s.params)

	s.customerID = "a1b2c3d4-0000-4000-8000-000000000005"
	s.period = types.NewWindow(
		time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	)
}

func (s *COGSServiceSuite) seedRun(startedAt time.Time) string {
	ctx := testutil.SetupContext()
	defID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_DEF)
	s.Require().NoError(s.GetStores().Workflows.CreateDefinition(ctx, &workflow.Definition{
		ID: defID, Key: "support.ticket", Version: 1, Active: true,
		BaseModel: types.GetDefaultBaseModel(),
	}))
	runID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_RUN)
	s.Require().NoError(s.GetStores().Workflows.CreateRun(ctx, &workflow.Run{
		ID:           runID,
		CustomerID:   s.customerID,
		DefinitionID: defID,
		StartedAt:    startedAt,
		Status:       types.WorkflowRunStatusCompleted,
	}))
	return runID
}

func (s *COGSServiceSuite) seedCost(runID string, costType types.CostType, amount string) {
	err := s.GetStores().CostLedger.Append(testutil.SetupContext(), &costledger.CostRecord{
		WorkflowRunID: runID,
		TS:            s.period.Start.Add(time.Hour),
		CostAmount:    dec(amount),
		CostType:      costType,
	})
	s.Require().NoError(err)
}

func (s *COGSServiceSuite) seedRated(total, cogs string) {
	margin := dec(total).Sub(dec(cogs))
	err := s.GetStores().RatedUsage.Upsert(testutil.SetupContext(), &ratedusage.RatedUsage{
		ID:         types.GenerateUUID(),
		CustomerID: s.customerID,
		Period:     s.period,
		Total:      dec(total),
		COGS:       dec(cogs),
		Margin:     margin,
		BaseModel:  types.GetDefaultBaseModel(),
	})
	s.Require().NoError(err)
}

func (s *COGSServiceSuite) TestPeriodCOGSGroupsByType() {
	run := s.seedRun(s.period.Start.Add(24 * time.Hour))
	s.seedCost(run, types.CostTypeOpenAI, "1.20")
	s.seedCost(run, types.CostTypeOpenAI, "0.80")
	s.seedCost(run, types.CostTypeCompute, "0.50")

	breakdown, err := s.service.PeriodCOGS(testutil.SetupContext(), s.customerID, s.period)
	s.Require().NoError(err)
	s.Equal(1, breakdown.RunCount)
	s.True(breakdown.Total.Equal(dec("2.50")))
	s.True(breakdown.ByType[types.CostTypeOpenAI].Equal(dec("2")))
	s.True(breakdown.ByType[types.CostTypeCompute].Equal(dec("0.50")))
}

func (s *COGSServiceSuite) TestPeriodCOGSScopedToRunStart() {
	inside := s.seedRun(s.period.Start.Add(24 * time.Hour))
	outside := s.seedRun(s.period.End.Add(time.Hour))
	s.seedCost(inside, types.CostTypeOpenAI, "1.00")
	s.seedCost(outside, types.CostTypeOpenAI, "9.00")

	breakdown, err := s.service.PeriodCOGS(testutil.SetupContext(), s.customerID, s.period)
	s.Require().NoError(err)
	s.Equal(1, breakdown.RunCount)
	s.True(breakdown.Total.Equal(dec("1.00")))
}

func (s *COGSServiceSuite) TestPeriodCOGSWithoutRunsIsEmpty() {
	breakdown, err := s.service.PeriodCOGS(testutil.SetupContext(), s.customerID, s.period)
	s.Require().NoError(err)
	s.Equal(0, breakdown.RunCount)
	s.True(breakdown.Total.IsZero())
	s.Empty(breakdown.ByType)
}

func (s *COGSServiceSuite) TestMeterCOGSUsesAttributionAllowlist() {
	run := s.seedRun(s.period.Start.Add(24 * time.Hour))
	s.seedCost(run, types.CostTypeOpenAI, "1.20")
	s.seedCost(run, types.CostTypeAnthropic, "0.30")
	s.seedCost(run, types.CostTypeCompute, "0.50")
	s.seedCost(run, types.CostTypeS3, "0.10")

	llm, err := s.service.MeterCOGS(testutil.SetupContext(), s.customerID, meter.MeterLLMTokens, s.period)
	s.Require().NoError(err)
	s.True(llm.Equal(dec("1.50")))

	// workflow meters attribute every cost type
	all, err := s.service.MeterCOGS(testutil.SetupContext(), s.customerID, meter.MeterWorkflowCompleted, s.period)
	s.Require().NoError(err)
	s.True(all.Equal(dec("2.10")))
}

func (s *COGSServiceSuite) TestMarginRequiresRatedPeriod() {
	_, err := s.service.AnalyzeMargin(testutil.SetupContext(), s.customerID, s.period)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *COGSServiceSuite) TestMarginScoring() {
	cases := []struct {
		total string
		cogs  string
		score ProfitabilityScore
	}{
		{"100", "40", ScoreExcellent},
		{"100", "60", ScoreGood},
		{"100", "80", ScoreFair},
		{"100", "95", ScorePoor},
		{"100", "120", ScoreLoss},
	}
	for _, tc := range cases {
		s.seedRated(tc.total, tc.cogs)
		analysis, err := s.service.AnalyzeMargin(testutil.SetupContext(), s.customerID, s.period)
		s.Require().NoError(err)
		s.Equal(tc.score, analysis.Score)
	}
}

func (s *COGSServiceSuite) TestMarginPercent() {
	s.seedRated("200", "50")
	analysis, err := s.service.AnalyzeMargin(testutil.SetupContext(), s.customerID, s.period)
	s.Require().NoError(err)
	s.True(analysis.MarginPercent.Equal(dec("75")))
	s.True(analysis.Margin.Equal(dec("150")))
}

func (s *COGSServiceSuite) TestZeroRevenueWithCostIsTotalLoss() {
	s.seedRated("0", "12.50")
	analysis, err := s.service.AnalyzeMargin(testutil.SetupContext(), s.customerID, s.period)
	s.Require().NoError(err)
	s.True(analysis.MarginPercent.Equal(decimal.NewFromInt(-100)))
	s.Equal(ScoreLoss, analysis.Score)
}
