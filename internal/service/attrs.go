package service

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kachi-io/kachi/internal/domain/events"
)

// Telemetry attribute keys. Attributes arrive flat on resources, spans and
// span events; span values win over resource values on key collisions.
const (
	attrBillingCustomerID      = "billing.customer_id"
	attrBillingWorkflowRunID   = "billing.workflow_run_id"
	attrBillingMeterCandidates = "billing.meter_candidates"

	attrLLMTokensInput  = "llm.tokens_input"
	attrLLMTokensOutput = "llm.tokens_output"
	attrLLMTokens       = "llm.tokens"
	attrComputeMS       = "compute.ms"
	attrNetBytesIn      = "net.bytes_in"
	attrNetBytesOut     = "net.bytes_out"
	attrStorageGBHours  = "storage.gb_hours"

	attrWorkflowDefinition = "workflow.definition"
	attrWorkflowVersion    = "workflow.version"
	attrStepKey            = "step.key"
	attrActorType          = "actor.type"

	attrSLAMet       = "sla.met"
	attrOutcomeType  = "outcome.type"
	attrOutcomeValue = "outcome.value"
)

// mergeAttributes overlays maps left to right, later maps winning
func mergeAttributes(maps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

func extractBilling(attrs map[string]any) *events.BillingAttributes {
	customerID := attrString(attrs, attrBillingCustomerID)
	if customerID == "" {
		return nil
	}
	return &events.BillingAttributes{
		CustomerID:      customerID,
		WorkflowRunID:   attrString(attrs, attrBillingWorkflowRunID),
		MeterCandidates: attrStringSlice(attrs, attrBillingMeterCandidates),
	}
}

func extractEdge(attrs map[string]any) *events.EdgeAttributes {
	edge := &events.EdgeAttributes{
		LLMTokensInput:  attrInt64(attrs, attrLLMTokensInput),
		LLMTokensOutput: attrInt64(attrs, attrLLMTokensOutput),
		LLMTokens:       attrInt64(attrs, attrLLMTokens),
		ComputeMS:       attrInt64(attrs, attrComputeMS),
		NetBytesIn:      attrInt64(attrs, attrNetBytesIn),
		NetBytesOut:     attrInt64(attrs, attrNetBytesOut),
		StorageGBHours:  attrDecimal(attrs, attrStorageGBHours),
	}
	if edge.IsZero() {
		return nil
	}
	return edge
}

func extractWork(attrs map[string]any) *events.WorkAttributes {
	work := &events.WorkAttributes{
		WorkflowDefinition: attrString(attrs, attrWorkflowDefinition),
		WorkflowVersion:    int(attrInt64(attrs, attrWorkflowVersion)),
		StepKey:            attrString(attrs, attrStepKey),
		ActorType:          attrString(attrs, attrActorType),
	}
	if work.WorkflowDefinition == "" && work.StepKey == "" && work.ActorType == "" {
		return nil
	}
	return work
}

func extractOutcome(attrs map[string]any) *events.OutcomeAttributes {
	outcomeType := attrString(attrs, attrOutcomeType)
	slaMet, hasSLA := attrBool(attrs, attrSLAMet)
	value := attrDecimal(attrs, attrOutcomeValue)
	if outcomeType == "" && !hasSLA && value.IsZero() {
		return nil
	}
	oa := &events.OutcomeAttributes{
		OutcomeType:  outcomeType,
		OutcomeValue: value,
	}
	if hasSLA {
		oa.SLAMet = &slaMet
	}
	return oa
}

func attrString(attrs map[string]any, key string) string {
	if v, ok := attrs[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func attrStringSlice(attrs map[string]any, key string) []string {
	v, ok := attrs[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var result []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		if vv == "" {
			return nil
		}
		parts := strings.Split(vv, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

// attrInt64 accepts the numeric shapes JSON decoding produces
func attrInt64(attrs map[string]any, key string) int64 {
	v, ok := attrs[key]
	if !ok {
		return 0
	}
	switch vv := v.(type) {
	case int64:
		return vv
	case int:
		return int64(vv)
	case float64:
		return int64(vv)
	case string:
		n, err := strconv.ParseInt(vv, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func attrDecimal(attrs map[string]any, key string) decimal.Decimal {
	v, ok := attrs[key]
	if !ok {
		return decimal.Zero
	}
	switch vv := v.(type) {
	case float64:
		return decimal.NewFromFloat(vv)
	case int64:
		return decimal.NewFromInt(vv)
	case int:
		return decimal.NewFromInt(int64(vv))
	case string:
		d, err := decimal.NewFromString(vv)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

func attrBool(attrs map[string]any, key string) (bool, bool) {
	v, ok := attrs[key]
	if !ok {
		return false, false
	}
	switch vv := v.(type) {
	case bool:
		return vv, true
	case string:
		b, err := strconv.ParseBool(vv)
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
