package rating

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func twoTierPricing() MeterPricing {
	return MeterPricing{
		MeterKey: "llm.tokens",
		Tiers: []PricingTier{
			{MinUsage: dec("0"), MaxUsage: decPtr("100000"), UnitPrice: dec("0.00002")},
			{MinUsage: dec("100000"), MaxUsage: nil, UnitPrice: dec("0.000015")},
		},
	}
}

func TestCalculateTieredPricing(t *testing.T) {
	tests := []struct {
		name       string
		usage      decimal.Decimal
		pricing    MeterPricing
		wantAmount decimal.Decimal
		wantTiers  int
	}{
		{
			name:       "zero usage",
			usage:      dec("0"),
			pricing:    twoTierPricing(),
			wantAmount: dec("0"),
			wantTiers:  0,
		},
		{
			name:       "usage within first tier",
			usage:      dec("50000"),
			pricing:    twoTierPricing(),
			wantAmount: dec("1"),
			wantTiers:  1,
		},
		{
			name:    "usage exactly at boundary belongs to the next tier",
			usage:   dec("100000"),
			pricing: twoTierPricing(),
			// all 100000 units priced by the first tier, none by the second
			wantAmount: dec("2"),
			wantTiers:  1,
		},
		{
			name:       "usage spanning both tiers",
			usage:      dec("150000"),
			pricing:    twoTierPricing(),
			wantAmount: dec("2.75"),
			wantTiers:  2,
		},
		{
			name:  "flat fee charged once per contributing tier",
			usage: dec("150"),
			pricing: MeterPricing{
				Tiers: []PricingTier{
					{MinUsage: dec("0"), MaxUsage: decPtr("100"), UnitPrice: dec("1"), FlatFee: dec("10")},
					{MinUsage: dec("100"), UnitPrice: dec("0.5"), FlatFee: dec("5")},
				},
			},
			// 100*1 + 10 + 50*0.5 + 5
			wantAmount: dec("140"),
			wantTiers:  2,
		},
		{
			name:  "flat fee skipped when tier does not contribute",
			usage: dec("80"),
			pricing: MeterPricing{
				Tiers: []PricingTier{
					{MinUsage: dec("0"), MaxUsage: decPtr("100"), UnitPrice: dec("1"), FlatFee: dec("10")},
					{MinUsage: dec("100"), UnitPrice: dec("0.5"), FlatFee: dec("5")},
				},
			},
			wantAmount: dec("90"),
			wantTiers:  1,
		},
		{
			name:       "no tiers configured",
			usage:      dec("100"),
			pricing:    MeterPricing{},
			wantAmount: dec("0"),
			wantTiers:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, breakdown := CalculateTieredPricing(tt.usage, tt.pricing)
			assert.True(t, tt.wantAmount.Equal(amount), "want %s got %s", tt.wantAmount, amount)
			assert.Len(t, breakdown, tt.wantTiers)
		})
	}
}

func TestCalculateTieredPricingMonotonic(t *testing.T) {
	pricing := twoTierPricing()
	prev := decimal.Zero
	for _, usage := range []string{"0", "1", "99999", "100000", "100001", "500000"} {
		amount, _ := CalculateTieredPricing(dec(usage), pricing)
		assert.True(t, amount.GreaterThanOrEqual(prev),
			"amount at usage %s regressed: %s < %s", usage, amount, prev)
		prev = amount
	}
}

func TestCalculateTieredPricingUnsortedTiers(t *testing.T) {
	pricing := MeterPricing{
		Tiers: []PricingTier{
			{MinUsage: dec("100000"), UnitPrice: dec("0.000015")},
			{MinUsage: dec("0"), MaxUsage: decPtr("100000"), UnitPrice: dec("0.00002")},
		},
	}
	amount, _ := CalculateTieredPricing(dec("150000"), pricing)
	assert.True(t, dec("2.75").Equal(amount), "got %s", amount)
}

func TestApplyExclusions(t *testing.T) {
	usage := []Usage{
		{MeterKey: "workflow.completed", Value: dec("10")},
		{MeterKey: "api.calls", Value: dec("500")},
		{MeterKey: "llm.tokens", Value: dec("20000")},
	}

	t.Run("exclusion fires when trigger has usage", func(t *testing.T) {
		kept := ApplyExclusions(usage, []Exclusion{
			{When: "workflow.completed", Drop: []string{"api.calls"}},
		})
		require.Len(t, kept, 2)
		assert.Equal(t, "workflow.completed", kept[0].MeterKey)
		assert.Equal(t, "llm.tokens", kept[1].MeterKey)
	})

	t.Run("exclusion skipped when trigger absent", func(t *testing.T) {
		kept := ApplyExclusions(usage, []Exclusion{
			{When: "outcome.ticket_resolved", Drop: []string{"api.calls"}},
		})
		assert.Len(t, kept, 3)
	})

	t.Run("exclusion skipped when trigger zero", func(t *testing.T) {
		zeroed := []Usage{
			{MeterKey: "workflow.completed", Value: dec("0")},
			{MeterKey: "api.calls", Value: dec("500")},
		}
		kept := ApplyExclusions(zeroed, []Exclusion{
			{When: "workflow.completed", Drop: []string{"api.calls"}},
		})
		assert.Len(t, kept, 2)
	})

	t.Run("dropped trigger cannot fire a later exclusion", func(t *testing.T) {
		chained := []Usage{
			{MeterKey: "workflow.completed", Value: dec("5")},
			{MeterKey: "step.completed", Value: dec("40")},
			{MeterKey: "api.calls", Value: dec("100")},
		}
		kept := ApplyExclusions(chained, []Exclusion{
			{When: "workflow.completed", Drop: []string{"step.completed"}},
			{When: "step.completed", Drop: []string{"api.calls"}},
		})
		// step.completed was dropped first, so api.calls survives
		require.Len(t, kept, 2)
		assert.Equal(t, "workflow.completed", kept[0].MeterKey)
		assert.Equal(t, "api.calls", kept[1].MeterKey)
	})
}

func envelopePolicy(precedence Precedence) Policy {
	return Policy{
		Precedence: precedence,
		EdgesIncludedPerWork: map[string]map[string]decimal.Decimal{
			"workflow.completed": {
				"llm.tokens": dec("10000"),
				"api.calls":  dec("50"),
			},
		},
		OverageSpill: true,
	}
}

func TestAllocateEnvelopes(t *testing.T) {
	usage := []Usage{
		{MeterKey: "workflow.completed", Value: dec("15")},
		{MeterKey: "llm.tokens", Value: dec("150000")},
	}

	t.Run("work over edges gets the full allowance", func(t *testing.T) {
		envelopes := AllocateEnvelopes(usage, envelopePolicy(PrecedenceWorkOverEdges))
		require.Contains(t, envelopes, "llm.tokens")
		require.Contains(t, envelopes, "api.calls")
		assert.True(t, dec("150000").Equal(envelopes["llm.tokens"].Allocated))
		assert.True(t, dec("150000").Equal(envelopes["llm.tokens"].Remaining))
		assert.True(t, dec("750").Equal(envelopes["api.calls"].Allocated))
	})

	t.Run("parallel allocates the full allowance", func(t *testing.T) {
		envelopes := AllocateEnvelopes(usage, envelopePolicy(PrecedenceParallel))
		require.Contains(t, envelopes, "llm.tokens")
		assert.True(t, dec("150000").Equal(envelopes["llm.tokens"].Allocated))
		assert.True(t, dec("150000").Equal(envelopes["llm.tokens"].Remaining))
	})

	t.Run("edges over work gets no envelopes", func(t *testing.T) {
		envelopes := AllocateEnvelopes(usage, envelopePolicy(PrecedenceEdgesOverWork))
		assert.Empty(t, envelopes)
	})

	t.Run("unmapped work meters allocate nothing", func(t *testing.T) {
		envelopes := AllocateEnvelopes([]Usage{
			{MeterKey: "step.completed", Value: dec("100")},
		}, envelopePolicy(PrecedenceWorkOverEdges))
		assert.Empty(t, envelopes)
	})
}

func TestConsumeEdgeUsage(t *testing.T) {
	spill := Policy{OverageSpill: true}
	noSpill := Policy{}

	t.Run("envelope fully absorbs usage", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "llm.tokens", Allocated: dec("150000"), Remaining: dec("150000")}
		billable, consumed, included := ConsumeEdgeUsage(dec("150000"), MeterPricing{}, env, spill)
		assert.True(t, billable.IsZero())
		assert.True(t, dec("150000").Equal(consumed))
		assert.True(t, included.IsZero())
		assert.True(t, env.Remaining.IsZero())
		assert.True(t, env.IsExhausted())
	})

	t.Run("overage spills past the envelope", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "llm.tokens", Allocated: dec("150000"), Remaining: dec("150000")}
		billable, consumed, _ := ConsumeEdgeUsage(dec("500000"), MeterPricing{}, env, spill)
		assert.True(t, dec("350000").Equal(billable), "got %s", billable)
		assert.True(t, dec("150000").Equal(consumed))
	})

	t.Run("spill disabled never bills overage", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "llm.tokens", Allocated: dec("1000"), Remaining: dec("1000")}
		billable, consumed, _ := ConsumeEdgeUsage(dec("5000"), MeterPricing{}, env, noSpill)
		assert.True(t, billable.IsZero())
		assert.True(t, dec("1000").Equal(consumed))
	})

	t.Run("included quota consumed before the envelope", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "api.calls", Allocated: dec("100"), Remaining: dec("100")}
		pricing := MeterPricing{IncludedQuota: dec("200")}
		billable, consumed, included := ConsumeEdgeUsage(dec("350"), pricing, env, spill)
		assert.True(t, dec("200").Equal(included))
		assert.True(t, dec("100").Equal(consumed))
		assert.True(t, dec("50").Equal(billable))
	})

	t.Run("no envelope bills everything past the quota", func(t *testing.T) {
		pricing := MeterPricing{IncludedQuota: dec("100")}
		billable, consumed, included := ConsumeEdgeUsage(dec("250"), pricing, nil, spill)
		assert.True(t, dec("150").Equal(billable))
		assert.True(t, consumed.IsZero())
		assert.True(t, dec("100").Equal(included))
	})

	t.Run("parallel halves envelope availability at consumption", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "llm.tokens", Allocated: dec("1000"), Remaining: dec("1000")}
		billable, consumed, _ := ConsumeEdgeUsage(dec("800"), MeterPricing{}, env, Policy{
			Precedence:   PrecedenceParallel,
			OverageSpill: true,
		})
		assert.True(t, dec("500").Equal(consumed), "got %s", consumed)
		assert.True(t, dec("300").Equal(billable), "got %s", billable)
		assert.True(t, dec("500").Equal(env.Remaining))
	})

	t.Run("envelope accounting stays balanced", func(t *testing.T) {
		env := &EnvelopeAllocation{EdgeMeter: "net.bytes", Allocated: dec("1000"), Remaining: dec("1000")}
		ConsumeEdgeUsage(dec("400"), MeterPricing{}, env, spill)
		ConsumeEdgeUsage(dec("900"), MeterPricing{}, env, spill)
		assert.True(t, env.Consumed.Add(env.Remaining).Equal(env.Allocated))
	})
}
