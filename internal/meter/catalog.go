// Package meter classifies meter keys for the dual-rail pipeline.
//
// A meter key is a dotted string like "llm.tokens" or "workflow.completed".
// Work meters count business outcomes, edge meters count resource
// consumption, and anything else is neutral: billable only when pricing is
// declared and never part of envelopes or exclusions.
package meter

import "strings"

// Class is the rail a meter key belongs to
type Class string

const (
	ClassWork    Class = "work"
	ClassEdge    Class = "edge"
	ClassNeutral Class = "neutral"
)

var workPrefixes = []string{"workflow.", "outcome.", "step.", "task."}

var edgePrefixes = []string{"api.", "llm.", "compute.", "storage.", "net."}

// Canonical edge meters emitted by the edge deriver
const (
	MeterAPICalls        = "api.calls"
	MeterLLMTokens       = "llm.tokens"
	MeterLLMTokensInput  = "llm.tokens.input"
	MeterLLMTokensOutput = "llm.tokens.output"
	MeterComputeMS       = "compute.ms"
	MeterNetBytes        = "net.bytes"
	MeterStorageGBH      = "storage.gbh"
)

// Canonical work meters emitted by the work deriver
const (
	MeterWorkflowCompleted = "workflow.completed"
	MeterWorkflowFailed    = "workflow.failed"
	MeterStepCompleted     = "step.completed"
	MeterTicketResolved    = "outcome.ticket_resolved"
	MeterDocumentProcessed = "outcome.document_processed"
	MeterAnalysisCompleted = "outcome.analysis_completed"
)

// EdgeMeters returns the canonical set of edge meters
func EdgeMeters() []string {
	return []string{
		MeterAPICalls,
		MeterLLMTokens,
		MeterLLMTokensInput,
		MeterLLMTokensOutput,
		MeterComputeMS,
		MeterNetBytes,
		MeterStorageGBH,
	}
}

// WorkMeters returns the canonical set of work meters
func WorkMeters() []string {
	return []string{
		MeterWorkflowCompleted,
		MeterWorkflowFailed,
		MeterStepCompleted,
		MeterTicketResolved,
		MeterDocumentProcessed,
		MeterAnalysisCompleted,
	}
}

// IsWorkMeter reports whether the meter represents work or outcomes
func IsWorkMeter(meterKey string) bool {
	for _, prefix := range workPrefixes {
		if strings.HasPrefix(meterKey, prefix) {
			return true
		}
	}
	return false
}

// IsEdgeMeter reports whether the meter represents resource consumption
func IsEdgeMeter(meterKey string) bool {
	for _, prefix := range edgePrefixes {
		if strings.HasPrefix(meterKey, prefix) {
			return true
		}
	}
	return false
}

// Classify returns the rail the meter key belongs to
func Classify(meterKey string) Class {
	switch {
	case IsWorkMeter(meterKey):
		return ClassWork
	case IsEdgeMeter(meterKey):
		return ClassEdge
	default:
		return ClassNeutral
	}
}
