package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/domain/workflow"
	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/testutil"
	"github.com/kachi-io/kachi/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type RatingServiceSuite struct {
	testutil.BaseServiceSuite
	service  RatingService
	outcomes OutcomeService
	policies *StaticPolicyProvider
	params   ServiceParams

	customerID string
	period     types.Window
}

func TestRatingService(t *testing.T) {
	suite.Run(t, new(RatingServiceSuite))
}

func (s *RatingServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	stores := s.GetStores()
	s.params = ServiceParams{
		Logger:         s.GetLogger(),
		Config:         s.GetConfig(),
		EventRepo:      stores.Events,
		MeterRepo:      stores.Meters,
		CustomerRepo:   stores.Customers,
		WorkflowRepo:   stores.Workflows,
		CostLedgerRepo: stores.CostLedger,
		OutcomeRepo:    stores.Outcomes,
		RatedUsageRepo: stores.RatedUsage,
		AuditLogRepo:   stores.AuditLog,
	}
	s.policies = NewStaticPolicyProvider(s.ratingPolicy())
	s.outcomes = NewOutcomeService(s.params, s.policies)
	cogs := NewCOGSService(s.params)
	s.service = NewRatingService(s.params, s.policies, s.outcomes, cogs)

	s.customerID = "a1b2c3d4-0000-4000-8000-000000000001"
	s.period = types.NewWindow(
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	)
	err := stores.Customers.Create(testutil.SetupContext(), &customer.Customer{
		ID:          s.customerID,
		DisplayName: "Acme Agents",
		Currency:    "USD",
		Active:      true,
		BaseModel:   types.GetDefaultBaseModel(),
	})
	s.Require().NoError(err)
}

// ratingPolicy prices workflow completions with a quota and tokens with two
// tiers, and grants a token envelope per completed workflow.
func (s *RatingServiceSuite) ratingPolicy() rating.Policy {
	return rating.Policy{
		Precedence: rating.PrecedenceWorkOverEdges,
		EdgesIncludedPerWork: map[string]map[string]decimal.Decimal{
			meter.MeterWorkflowCompleted: {meter.MeterLLMTokens: dec("1500")},
		},
		OverageSpill: true,
		MeterPricing: map[string]rating.MeterPricing{
			meter.MeterWorkflowCompleted: {
				MeterKey:      meter.MeterWorkflowCompleted,
				IncludedQuota: dec("50"),
				Tiers: []rating.PricingTier{
					{MinUsage: dec("0"), UnitPrice: dec("0.50")},
				},
				Unit: "count",
			},
			meter.MeterLLMTokens: {
				MeterKey: meter.MeterLLMTokens,
				Tiers: []rating.PricingTier{
					{MinUsage: dec("0"), MaxUsage: decPtr("100000"), UnitPrice: dec("0.00002")},
					{MinUsage: dec("100000"), UnitPrice: dec("0.000015")},
				},
				Unit: "tokens",
			},
		},
	}
}

func (s *RatingServiceSuite) seedUsage(meterKey string, value decimal.Decimal) {
	s.seedUsageAt(meterKey, value, s.period.Start.Add(time.Hour))
}

func (s *RatingServiceSuite) seedUsageAt(meterKey string, value decimal.Decimal, windowStart time.Time) {
	err := s.GetStores().Meters.Upsert(testutil.SetupContext(), &metering.MeterReading{
		CustomerID: s.customerID,
		MeterKey:   meterKey,
		Window:     types.WindowFor(windowStart, 5*time.Minute),
		Value:      value,
	})
	s.Require().NoError(err)
}

func (s *RatingServiceSuite) line(result *rating.Result, meterKey string) *rating.RatedLine {
	for i := range result.Lines {
		if result.Lines[i].MeterKey == meterKey {
			return &result.Lines[i]
		}
	}
	return nil
}

func (s *RatingServiceSuite) TestEnvelopeAbsorbsEdgeUsage() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage(meter.MeterLLMTokens, dec("150000"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	// 100 completions earn a 150000-token envelope that absorbs all usage
	env := result.Envelopes[meter.MeterLLMTokens]
	s.Require().NotNil(env)
	s.True(env.Allocated.Equal(dec("150000")))
	s.True(env.Consumed.Equal(dec("150000")))
	s.True(env.IsExhausted())

	tokens := s.line(result, meter.MeterLLMTokens)
	s.Require().NotNil(tokens)
	s.True(tokens.BillableQuantity.IsZero())
	s.True(tokens.Amount.IsZero())
	s.Contains(tokens.Description, "(included in plan)")
	s.True(tokens.IncludedConsumed.Equal(dec("150000")))

	// 100 completions against a quota of 50 leaves 50 billable at 0.50
	work := s.line(result, meter.MeterWorkflowCompleted)
	s.Require().NotNil(work)
	s.True(work.BillableQuantity.Equal(dec("50")))
	s.True(work.Amount.Equal(dec("25")))
	s.True(result.Subtotal.Equal(dec("25")))
	s.True(result.Total.Equal(dec("25")))
}

func (s *RatingServiceSuite) TestOverageSpillsPastEnvelope() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage(meter.MeterLLMTokens, dec("500000"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	tokens := s.line(result, meter.MeterLLMTokens)
	s.Require().NotNil(tokens)
	s.True(tokens.EnvelopeConsumed.Equal(dec("150000")))
	s.True(tokens.BillableQuantity.Equal(dec("350000")))
	// 100000 at 0.00002 plus 250000 at 0.000015
	s.True(tokens.Amount.Equal(dec("5.75")))
}

func (s *RatingServiceSuite) TestNoSpillSuppressesOverage() {
	ctx := testutil.SetupContext()
	policy := s.ratingPolicy()
	policy.OverageSpill = false
	s.policies.SetPolicy(s.customerID, policy)

	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage(meter.MeterLLMTokens, dec("500000"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	tokens := s.line(result, meter.MeterLLMTokens)
	s.Require().NotNil(tokens)
	s.True(tokens.BillableQuantity.IsZero())
	s.True(tokens.Amount.IsZero())
}

func (s *RatingServiceSuite) TestExclusionDropsEdgeMeter() {
	ctx := testutil.SetupContext()
	policy := s.ratingPolicy()
	policy.Exclusions = []rating.Exclusion{
		{When: meter.MeterWorkflowCompleted, Drop: []string{meter.MeterAPICalls}},
	}
	policy.MeterPricing[meter.MeterAPICalls] = rating.MeterPricing{
		MeterKey: meter.MeterAPICalls,
		Tiers:    []rating.PricingTier{{MinUsage: dec("0"), UnitPrice: dec("0.001")}},
	}
	s.policies.SetPolicy(s.customerID, policy)

	s.seedUsage(meter.MeterWorkflowCompleted, dec("10"))
	s.seedUsage(meter.MeterAPICalls, dec("1000"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	s.Nil(s.line(result, meter.MeterAPICalls))
	s.NotNil(s.line(result, meter.MeterWorkflowCompleted))
}

func (s *RatingServiceSuite) TestDiscountAndSpendCap() {
	ctx := testutil.SetupContext()
	policy := s.ratingPolicy()
	policy.BaseFee = dec("100")
	policy.DiscountPercent = dec("10")
	policy.SpendCap = decPtr("100")
	s.policies.SetPolicy(s.customerID, policy)

	// 150 billable completions at 0.50 plus the base fee
	s.seedUsage(meter.MeterWorkflowCompleted, dec("200"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	s.True(result.Subtotal.Equal(dec("175")))
	// 10% discount leaves 157.5, the cap folds the remaining 57.5 in
	s.True(result.Total.Equal(dec("100")))
	s.True(result.Discount.Equal(dec("75")))
	s.True(result.Subtotal.Sub(result.Discount).Equal(result.Total))
}

func (s *RatingServiceSuite) TestSuccessFeeForSettledOutcomes() {
	ctx := testutil.SetupContext()
	policy := s.ratingPolicy()
	policy.SuccessFees = map[string]rating.SuccessFeeConfig{
		meter.MeterTicketResolved: {PricePerUnit: dec("25"), SettlementDays: 0},
	}
	s.policies.SetPolicy(s.customerID, policy)

	runID := s.seedRun(ctx, s.period.Start.Add(24*time.Hour))
	for i := 0; i < 3; i++ {
		_, err := s.outcomes.RecordOutcome(ctx, s.customerID, &dto.OutcomeEventRequest{
			CustomerID:    s.customerID,
			WorkflowRunID: runID,
			OutcomeType:   "ticket_resolution",
		})
		s.Require().NoError(err)
	}
	s.seedUsage(meter.MeterWorkflowCompleted, dec("1"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	fee := s.line(result, meter.MeterTicketResolved)
	s.Require().NotNil(fee)
	s.Equal(rating.LineTypeSuccessFee, fee.LineType)
	s.True(fee.UsageQuantity.Equal(dec("3")))
	s.True(fee.Amount.Equal(dec("75")))
	s.Equal("Success fee for outcome.ticket_resolved", fee.Description)
}

func (s *RatingServiceSuite) TestSubtotalIsLineSum() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("80"))
	s.seedUsage(meter.MeterLLMTokens, dec("300000"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	sum := decimal.Zero
	for _, line := range result.Lines {
		sum = sum.Add(line.Amount)
	}
	s.True(result.Subtotal.Equal(sum))
	s.True(result.Total.Equal(result.Subtotal.Sub(result.Discount)))

	for _, env := range result.Envelopes {
		s.True(env.Allocated.Equal(env.Consumed.Add(env.Remaining)))
	}
}

func (s *RatingServiceSuite) TestEmptyPeriodIsNotPersisted() {
	ctx := testutil.SetupContext()

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.Empty(result.Lines)

	_, err = s.GetStores().RatedUsage.Get(ctx, s.customerID, s.period)
	s.True(ierr.IsNotFound(err))
}

func (s *RatingServiceSuite) TestReRatingReplacesStoredRow() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))

	_, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)

	stored, err := s.GetStores().RatedUsage.Get(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.Require().NoError(s.GetStores().RatedUsage.MarkPushed(ctx, stored.ID, time.Now().UTC()))

	// more usage lands, the period is re-rated
	s.seedUsage(meter.MeterWorkflowCompleted, dec("40"))
	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.True(result.Subtotal.Equal(dec("45")))

	stored, err = s.GetStores().RatedUsage.Get(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.True(stored.Subtotal.Equal(dec("45")))
	// re-rating resets the export stamp, the pushed amounts are stale
	s.Nil(stored.ExternalPushedAt)
}

func (s *RatingServiceSuite) TestPreviewDoesNotPersist() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))

	preview, err := s.service.PreviewPeriod(ctx, &dto.UsagePreviewRequest{
		CustomerID: s.customerID,
		Start:      s.period.Start,
		End:        s.period.End,
	})
	s.Require().NoError(err)
	s.True(preview.EstimatedCost.Equal(dec("25")))
	s.True(preview.Meters[meter.MeterWorkflowCompleted].Equal(dec("100")))
	s.Equal(s.period.Start, preview.PeriodStart)
	s.Equal(s.period.End, preview.PeriodEnd)
	s.Nil(preview.Breakdown)

	_, err = s.GetStores().RatedUsage.Get(ctx, s.customerID, s.period)
	s.True(ierr.IsNotFound(err))
}

func (s *RatingServiceSuite) TestPreviewShowsUnpricedMeters() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage("custom.unpriced", dec("42"))

	preview, err := s.service.PreviewPeriod(ctx, &dto.UsagePreviewRequest{
		CustomerID: s.customerID,
		Start:      s.period.Start,
		End:        s.period.End,
	})
	s.Require().NoError(err)

	// the unpriced meter contributes nothing to the estimate but its raw
	// usage still shows up
	s.True(preview.Meters["custom.unpriced"].Equal(dec("42")))
	s.True(preview.EstimatedCost.Equal(dec("25")))
}

func (s *RatingServiceSuite) TestPreviewBreakdownOnRequest() {
	ctx := testutil.SetupContext()
	policy := s.ratingPolicy()
	policy.BaseFee = dec("100")
	s.policies.SetPolicy(s.customerID, policy)

	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage(meter.MeterLLMTokens, dec("500000"))

	preview, err := s.service.PreviewPeriod(ctx, &dto.UsagePreviewRequest{
		CustomerID:       s.customerID,
		Start:            s.period.Start,
		End:              s.period.End,
		IncludeBreakdown: true,
	})
	s.Require().NoError(err)
	s.Require().NotNil(preview.Breakdown)
	s.True(preview.Breakdown.BaseFee.Equal(dec("100")))

	tokens, ok := preview.Breakdown.PerMeter[meter.MeterLLMTokens]
	s.Require().True(ok)
	s.True(tokens.Usage.Equal(dec("500000")))
	s.True(tokens.Envelope.Equal(dec("150000")))
	s.True(tokens.Billable.Equal(dec("350000")))
	s.True(tokens.Amount.Equal(dec("5.75")))

	work, ok := preview.Breakdown.PerMeter[meter.MeterWorkflowCompleted]
	s.Require().True(ok)
	s.True(work.Billable.Equal(dec("50")))
	s.True(work.Amount.Equal(dec("25")))
}

func (s *RatingServiceSuite) TestUnpricedMeterIsSkipped() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))
	s.seedUsage("custom.unpriced", dec("42"))

	result, err := s.service.RateCustomerPeriod(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.Nil(s.line(result, "custom.unpriced"))
	s.NotNil(s.line(result, meter.MeterWorkflowCompleted))
}

func (s *RatingServiceSuite) TestRecordAdjustment() {
	ctx := testutil.SetupContext()
	s.seedUsage(meter.MeterWorkflowCompleted, dec("100"))

	window := types.WindowFor(s.period.Start.Add(time.Hour), 5*time.Minute)
	entryID, err := s.service.RecordAdjustment(ctx, &dto.AdjustmentRequest{
		CustomerID: s.customerID,
		MeterKey:   meter.MeterWorkflowCompleted,
		Window:     window,
		Delta:      dec("-40"),
		Reason:     "duplicate batch from retried export",
		Actor:      "ops@example.com",
	})
	s.Require().NoError(err)
	s.Positive(entryID)

	usage, err := s.GetStores().Meters.ByMeter(ctx, s.customerID, s.period)
	s.Require().NoError(err)
	s.Require().Len(usage, 1)
	s.True(usage[0].Value.Equal(dec("60")))

	entries, err := s.GetStores().AuditLog.ListBySubject(ctx, s.customerID, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("adjustment", entries[0].Action)
	s.Equal("ops@example.com", entries[0].Actor)
}

func (s *RatingServiceSuite) TestAdjustmentRejectsZeroDelta() {
	ctx := testutil.SetupContext()
	window := types.WindowFor(s.period.Start, 5*time.Minute)
	_, err := s.service.RecordAdjustment(ctx, &dto.AdjustmentRequest{
		CustomerID: s.customerID,
		MeterKey:   meter.MeterWorkflowCompleted,
		Window:     window,
		Delta:      decimal.Zero,
		Reason:     "noop",
		Actor:      "ops@example.com",
	})
	s.True(ierr.IsValidation(err))
}

func (s *RatingServiceSuite) TestUnknownCustomerFails() {
	ctx := testutil.SetupContext()
	_, err := s.service.RateCustomerPeriod(ctx, "a1b2c3d4-0000-4000-8000-00000000dead", s.period)
	s.True(ierr.IsNotFound(err))
}

func (s *RatingServiceSuite) seedRun(ctx context.Context, startedAt time.Time) string {
	stores := s.GetStores()
	defID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_DEF)
	err := stores.Workflows.CreateDefinition(ctx, &workflow.Definition{
		ID:        defID,
		Key:       "support.ticket",
		Version:   1,
		Active:    true,
		BaseModel: types.GetDefaultBaseModel(),
	})
	s.Require().NoError(err)

	runID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WORKFLOW_RUN)
	err = stores.Workflows.CreateRun(ctx, &workflow.Run{
		ID:           runID,
		CustomerID:   s.customerID,
		DefinitionID: defID,
		StartedAt:    startedAt,
		Status:       types.WorkflowRunStatusRunning,
	})
	s.Require().NoError(err)
	return runID
}
