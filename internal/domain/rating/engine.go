package rating

import (
	"sort"

	"github.com/shopspring/decimal"
)

// parallelEnvelopeFactor scales envelope availability at consumption when
// both rails are rated independently, so parallel plans keep half the
// envelope benefit.
var parallelEnvelopeFactor = decimal.NewFromFloat(0.5)

// consumptionFactor is the fraction of the remaining envelope an edge meter
// may draw under each precedence.
func consumptionFactor(p Precedence) decimal.Decimal {
	if p == PrecedenceParallel {
		return parallelEnvelopeFactor
	}
	return decimal.NewFromInt(1)
}

// CalculateTieredPricing prices usage across the meter's tiers. Tiers are
// left-closed: a usage boundary belongs to the tier that starts at it. The
// flat fee of a tier is charged once when the tier contributes any usage.
func CalculateTieredPricing(usage decimal.Decimal, pricing MeterPricing) (decimal.Decimal, []TierBreakdown) {
	amount := decimal.Zero
	var breakdown []TierBreakdown
	if usage.LessThanOrEqual(decimal.Zero) || len(pricing.Tiers) == 0 {
		return amount, breakdown
	}

	tiers := make([]PricingTier, len(pricing.Tiers))
	copy(tiers, pricing.Tiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinUsage.LessThan(tiers[j].MinUsage)
	})

	for _, tier := range tiers {
		if usage.LessThanOrEqual(tier.MinUsage) {
			break
		}
		upper := usage
		if tier.MaxUsage != nil && tier.MaxUsage.LessThan(upper) {
			upper = *tier.MaxUsage
		}
		tierUsage := upper.Sub(tier.MinUsage)
		if tierUsage.LessThanOrEqual(decimal.Zero) {
			continue
		}
		tierAmount := tierUsage.Mul(tier.UnitPrice).Add(tier.FlatFee)
		amount = amount.Add(tierAmount)
		breakdown = append(breakdown, TierBreakdown{
			TierUsage: tierUsage,
			UnitPrice: tier.UnitPrice,
			Amount:    tierAmount,
		})
	}
	return amount, breakdown
}

// ApplyExclusions removes dropped edge meters from the usage set. Exclusions
// apply in policy order; each fires only when its triggering work meter has
// positive usage in the same set.
func ApplyExclusions(usage []Usage, exclusions []Exclusion) []Usage {
	if len(exclusions) == 0 {
		return usage
	}

	byKey := make(map[string]decimal.Decimal, len(usage))
	for _, u := range usage {
		byKey[u.MeterKey] = u.Value
	}

	dropped := make(map[string]bool)
	for _, excl := range exclusions {
		trigger, ok := byKey[excl.When]
		if !ok || trigger.LessThanOrEqual(decimal.Zero) || dropped[excl.When] {
			continue
		}
		for _, key := range excl.Drop {
			dropped[key] = true
		}
	}

	kept := make([]Usage, 0, len(usage))
	for _, u := range usage {
		if !dropped[u.MeterKey] {
			kept = append(kept, u)
		}
	}
	return kept
}

// AllocateEnvelopes builds the edge-meter envelopes earned by the period's
// work usage. Each unit of a mapped work meter contributes its full
// configured allowance; edges_over_work rates edges without envelopes, so
// none are built.
func AllocateEnvelopes(usage []Usage, policy Policy) map[string]*EnvelopeAllocation {
	envelopes := make(map[string]*EnvelopeAllocation)
	if policy.Precedence == PrecedenceEdgesOverWork || len(policy.EdgesIncludedPerWork) == 0 {
		return envelopes
	}

	for _, u := range usage {
		allowances, ok := policy.EdgesIncludedPerWork[u.MeterKey]
		if !ok || u.Value.LessThanOrEqual(decimal.Zero) {
			continue
		}
		for edgeMeter, perUnit := range allowances {
			allocated := u.Value.Mul(perUnit)
			env, ok := envelopes[edgeMeter]
			if !ok {
				env = &EnvelopeAllocation{EdgeMeter: edgeMeter}
				envelopes[edgeMeter] = env
			}
			env.Allocated = env.Allocated.Add(allocated)
			env.Remaining = env.Remaining.Add(allocated)
		}
	}
	return envelopes
}

// ConsumeEdgeUsage runs one edge meter's usage through its included quota and
// envelope, returning the billable overage. The envelope, when present, is
// mutated to record consumption; under parallel precedence only half the
// remaining envelope is available to draw from. With OverageSpill disabled
// the overage is never billable.
func ConsumeEdgeUsage(usage decimal.Decimal, pricing MeterPricing, env *EnvelopeAllocation, policy Policy) (billable, envelopeConsumed, includedConsumed decimal.Decimal) {
	includedConsumed = decimal.Min(usage, pricing.IncludedQuota)
	afterIncluded := usage.Sub(pricing.IncludedQuota)
	if afterIncluded.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, includedConsumed
	}

	if env != nil && !env.IsExhausted() {
		available := env.Remaining.Mul(consumptionFactor(policy.Precedence))
		envelopeConsumed = decimal.Min(afterIncluded, available)
		env.Consumed = env.Consumed.Add(envelopeConsumed)
		env.Remaining = env.Remaining.Sub(envelopeConsumed)
	}

	overage := afterIncluded.Sub(envelopeConsumed)
	if !policy.OverageSpill {
		return decimal.Zero, envelopeConsumed, includedConsumed
	}
	return overage, envelopeConsumed, includedConsumed
}

// SortUsage orders usage by meter key for deterministic line output
func SortUsage(usage []Usage) {
	sort.Slice(usage, func(i, j int) bool {
		return usage[i].MeterKey < usage[j].MeterKey
	})
}
