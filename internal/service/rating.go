package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/auditlog"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/dto"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/types"
)

// RatingService turns a customer's aggregated usage into rated line items
// for a billing period.
type RatingService interface {
	// RateCustomerPeriod rates the period and persists the result. Re-rating
	// the same period replaces the stored row, so the operation is
	// idempotent over unchanged usage.
	RateCustomerPeriod(ctx context.Context, customerID string, period types.Window) (*rating.Result, error)

	// PreviewPeriod rates the period without persisting anything. The
	// response reports raw usage for every meter, priced or not, and
	// itemizes the estimate when the request asks for a breakdown.
	PreviewPeriod(ctx context.Context, req *dto.UsagePreviewRequest) (*dto.UsagePreviewResponse, error)

	// RecordAdjustment applies a manual usage correction as an additive
	// reading plus an audit entry, returning the audit entry id
	RecordAdjustment(ctx context.Context, req *dto.AdjustmentRequest) (int64, error)
}

type ratingService struct {
	ServiceParams
	policies PolicyProvider
	outcomes OutcomeService
	cogs     COGSService
}

func NewRatingService(params ServiceParams, policies PolicyProvider, outcomes OutcomeService, cogs COGSService) RatingService {
	return &ratingService{
		ServiceParams: params,
		policies:      policies,
		outcomes:      outcomes,
		cogs:          cogs,
	}
}

func (s *ratingService) RateCustomerPeriod(ctx context.Context, customerID string, period types.Window) (*rating.Result, error) {
	result, err := s.rate(ctx, customerID, period)
	if err != nil {
		return nil, err
	}
	if len(result.Lines) == 0 {
		return result, nil
	}

	row := ratedusage.FromResult(types.GenerateUUID(), result)
	if err := s.RatedUsageRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Infow("customer period rated",
		"customer_id", customerID,
		"period_start", period.Start,
		"lines", len(result.Lines),
		"total", result.Total,
		"margin", result.Margin,
	)
	return result, nil
}

func (s *ratingService) PreviewPeriod(ctx context.Context, req *dto.UsagePreviewRequest) (*dto.UsagePreviewResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	period := req.Period()
	result, err := s.rate(ctx, req.CustomerID, period)
	if err != nil {
		return nil, err
	}

	byMeter, err := s.MeterRepo.ByMeter(ctx, req.CustomerID, period)
	if err != nil {
		return nil, err
	}
	meters := make(map[string]decimal.Decimal, len(byMeter))
	for _, u := range byMeter {
		meters[u.MeterKey] = u.Value
	}

	resp := &dto.UsagePreviewResponse{
		CustomerID:    req.CustomerID,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		Meters:        meters,
		EstimatedCost: result.Total,
	}
	if req.IncludeBreakdown {
		resp.Breakdown = previewBreakdown(result)
	}
	return resp, nil
}

func previewBreakdown(result *rating.Result) *dto.PreviewBreakdown {
	breakdown := &dto.PreviewBreakdown{
		PerMeter: make(map[string]dto.PreviewMeterBreakdown, len(result.Lines)),
	}
	for _, line := range result.Lines {
		if line.LineType == rating.LineTypeBaseFee {
			breakdown.BaseFee = breakdown.BaseFee.Add(line.Amount)
			continue
		}
		breakdown.PerMeter[line.MeterKey] = dto.PreviewMeterBreakdown{
			Usage:    line.UsageQuantity,
			Included: line.IncludedConsumed,
			Envelope: line.EnvelopeConsumed,
			Billable: line.BillableQuantity,
			Amount:   line.Amount,
		}
	}
	return breakdown
}

// rate runs the full rating flow: aggregate usage, apply exclusions,
// allocate envelopes, rate both rails per precedence, add base and success
// fees, then apply discount, spend cap and costs.
func (s *ratingService) rate(ctx context.Context, customerID string, period types.Window) (*rating.Result, error) {
	if _, err := s.CustomerRepo.Get(ctx, customerID); err != nil {
		return nil, err
	}
	policy, err := s.policies.PolicyFor(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &rating.Result{
		CustomerID: customerID,
		Period:     period,
		Envelopes:  map[string]*rating.EnvelopeAllocation{},
	}

	byMeter, err := s.MeterRepo.ByMeter(ctx, customerID, period)
	if err != nil {
		return nil, err
	}
	if len(byMeter) == 0 {
		return result, nil
	}

	usage := make([]rating.Usage, 0, len(byMeter))
	for _, u := range byMeter {
		usage = append(usage, rating.Usage{MeterKey: u.MeterKey, Value: u.Value})
	}

	usage = rating.ApplyExclusions(usage, policy.Exclusions)
	result.Envelopes = rating.AllocateEnvelopes(usage, policy)

	workUsage, edgeUsage := splitByRail(usage)
	switch policy.Precedence {
	case rating.PrecedenceEdgesOverWork:
		s.rateEdges(result, edgeUsage, policy)
		s.rateWork(result, workUsage, policy)
	default:
		s.rateWork(result, workUsage, policy)
		s.rateEdges(result, edgeUsage, policy)
	}

	if policy.BaseFee.IsPositive() {
		result.Lines = append(result.Lines, rating.RatedLine{
			MeterKey:         "base_fee",
			UsageQuantity:    decimal.NewFromInt(1),
			BillableQuantity: decimal.NewFromInt(1),
			UnitPrice:        policy.BaseFee,
			Amount:           policy.BaseFee,
			LineType:         rating.LineTypeBaseFee,
			Description:      "Monthly base fee",
		})
	}

	if err := s.rateSuccessFees(ctx, result, customerID, period, policy); err != nil {
		return nil, err
	}

	for _, line := range result.Lines {
		result.Subtotal = result.Subtotal.Add(line.Amount)
	}
	result.Discount = result.Subtotal.
		Mul(policy.DiscountPercent).
		Div(decimal.NewFromInt(100))
	result.Total = result.Subtotal.Sub(result.Discount)

	if policy.SpendCap != nil && result.Total.GreaterThan(*policy.SpendCap) {
		// the cap folds into the discount so the subtotal stays auditable
		result.Discount = result.Discount.Add(result.Total.Sub(*policy.SpendCap))
		result.Total = *policy.SpendCap
	}

	breakdown, err := s.cogs.PeriodCOGS(ctx, customerID, period)
	if err != nil {
		return nil, err
	}
	result.COGS = breakdown.Total
	result.Margin = result.Total.Sub(result.COGS)
	return result, nil
}

// rateWork rates work meters against their quotas and tiers
func (s *ratingService) rateWork(result *rating.Result, usage []rating.Usage, policy rating.Policy) {
	for _, u := range usage {
		pricing, ok := policy.MeterPricing[u.MeterKey]
		if !ok {
			s.warnUnpriced(result.CustomerID, u.MeterKey)
			continue
		}
		included := decimal.Min(u.Value, pricing.IncludedQuota)
		billable := decimal.Max(decimal.Zero, u.Value.Sub(pricing.IncludedQuota))
		result.Lines = append(result.Lines,
			s.buildLine(u, pricing, billable, decimal.Zero, included, rating.LineTypeWork))
	}
}

// rateEdges rates edge meters through their envelopes
func (s *ratingService) rateEdges(result *rating.Result, usage []rating.Usage, policy rating.Policy) {
	for _, u := range usage {
		pricing, ok := policy.MeterPricing[u.MeterKey]
		if !ok {
			s.warnUnpriced(result.CustomerID, u.MeterKey)
			continue
		}
		billable, envelopeConsumed, included := rating.ConsumeEdgeUsage(
			u.Value, pricing, result.Envelopes[u.MeterKey], policy)
		result.Lines = append(result.Lines,
			s.buildLine(u, pricing, billable, envelopeConsumed, included, rating.LineTypeEdge))
	}
}

func (s *ratingService) buildLine(u rating.Usage, pricing rating.MeterPricing, billable, envelopeConsumed, included decimal.Decimal, lineType rating.LineType) rating.RatedLine {
	line := rating.RatedLine{
		MeterKey:         u.MeterKey,
		UsageQuantity:    u.Value,
		BillableQuantity: billable,
		LineType:         lineType,
		EnvelopeConsumed: envelopeConsumed,
		IncludedConsumed: included,
	}
	if billable.IsZero() {
		line.Description = fmt.Sprintf("%s (included in plan)", u.MeterKey)
		line.IncludedConsumed = u.Value
		return line
	}

	amount, _ := rating.CalculateTieredPricing(billable, pricing)
	line.Amount = amount
	if billable.IsPositive() {
		line.UnitPrice = amount.Div(billable)
	}
	line.Description = fmt.Sprintf("%s usage", u.MeterKey)
	return line
}

func (s *ratingService) rateSuccessFees(ctx context.Context, result *rating.Result, customerID string, period types.Window, policy rating.Policy) error {
	now := time.Now().UTC()
	for _, meterKey := range sortedKeys(policy.SuccessFees) {
		cfg := policy.SuccessFees[meterKey]
		settled, err := s.outcomes.SettledOutcomes(ctx, customerID, meterKey, period, now, cfg)
		if err != nil {
			return err
		}
		if len(settled) == 0 {
			continue
		}
		quantity := decimal.NewFromInt(int64(len(settled)))
		result.Lines = append(result.Lines, rating.RatedLine{
			MeterKey:         meterKey,
			UsageQuantity:    quantity,
			BillableQuantity: quantity,
			UnitPrice:        cfg.PricePerUnit,
			Amount:           quantity.Mul(cfg.PricePerUnit),
			LineType:         rating.LineTypeSuccessFee,
			Description:      fmt.Sprintf("Success fee for %s", meterKey),
		})
	}
	return nil
}

func (s *ratingService) warnUnpriced(customerID, meterKey string) {
	s.Logger.Warnw("no pricing configured for meter, skipping",
		"customer_id", customerID,
		"meter_key", meterKey,
	)
}

func (s *ratingService) RecordAdjustment(ctx context.Context, req *dto.AdjustmentRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if _, err := s.CustomerRepo.Get(ctx, req.CustomerID); err != nil {
		return 0, err
	}

	reading := &metering.MeterReading{
		CustomerID: req.CustomerID,
		MeterKey:   req.MeterKey,
		Window:     req.Window,
		Value:      req.Delta,
		Metadata:   types.Metadata{"adjustment_reason": req.Reason, "adjustment_actor": req.Actor},
	}
	if err := s.MeterRepo.Upsert(ctx, reading); err != nil {
		return 0, err
	}

	entry := &auditlog.Entry{
		TS:      time.Now().UTC(),
		Actor:   req.Actor,
		Action:  auditlog.ActionAdjustment,
		Subject: req.CustomerID,
		Details: map[string]any{
			"meter_key":    req.MeterKey,
			"window_start": req.Window.Start,
			"delta":        req.Delta.String(),
			"reason":       req.Reason,
		},
	}
	if err := s.AuditLogRepo.Append(ctx, entry); err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func splitByRail(usage []rating.Usage) (work, edge []rating.Usage) {
	for _, u := range usage {
		switch meter.Classify(u.MeterKey) {
		case meter.ClassWork:
			work = append(work, u)
		default:
			edge = append(edge, u)
		}
	}
	return work, edge
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
