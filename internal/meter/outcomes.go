package meter

import "strings"

// outcomeTypeMeters maps direct outcome submission types to outcome meters
var outcomeTypeMeters = map[string]string{
	"ticket_resolution":   MeterTicketResolved,
	"document_processing": MeterDocumentProcessed,
	"analysis_completion": MeterAnalysisCompleted,
}

// OutcomeMeterForType resolves an outcome submission type to its meter.
// Unknown types are not billable outcomes.
func OutcomeMeterForType(outcomeType string) (string, bool) {
	m, ok := outcomeTypeMeters[outcomeType]
	return m, ok
}

// OutcomeMeterForSubmission resolves a direct submission, explicit type
// first, then event-name substring match.
func OutcomeMeterForSubmission(eventName, outcomeType string) (string, bool) {
	if m, ok := OutcomeMeterForType(outcomeType); ok {
		return m, ok
	}
	return OutcomeMeterForEventName(eventName)
}

// OutcomeMeterForEventName resolves a span event name to an outcome meter by
// substring matching, e.g. "support.ticket.resolved" or "ticket_resolved".
func OutcomeMeterForEventName(eventName string) (string, bool) {
	name := strings.ToLower(eventName)
	switch {
	case strings.Contains(name, "ticket") && strings.Contains(name, "resolved"):
		return MeterTicketResolved, true
	case strings.Contains(name, "document") && strings.Contains(name, "processed"):
		return MeterDocumentProcessed, true
	case strings.Contains(name, "analysis") && strings.Contains(name, "completed"):
		return MeterAnalysisCompleted, true
	}
	return "", false
}
