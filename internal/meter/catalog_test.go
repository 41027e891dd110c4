package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		meterKey string
		want     Class
	}{
		{"workflow.completed", ClassWork},
		{"workflow.failed", ClassWork},
		{"outcome.ticket_resolved", ClassWork},
		{"step.completed", ClassWork},
		{"task.assigned", ClassWork},
		{"api.calls", ClassEdge},
		{"llm.tokens", ClassEdge},
		{"llm.tokens.input", ClassEdge},
		{"compute.ms", ClassEdge},
		{"storage.gbh", ClassEdge},
		{"net.bytes", ClassEdge},
		{"custom.thing", ClassNeutral},
		{"workflow", ClassNeutral}, // no trailing dot, not a work prefix
		{"", ClassNeutral},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.meterKey), "meter %q", tt.meterKey)
	}
}

func TestCanonicalSetsAreClassified(t *testing.T) {
	for _, m := range EdgeMeters() {
		assert.True(t, IsEdgeMeter(m), "edge meter %q", m)
		assert.False(t, IsWorkMeter(m), "edge meter %q", m)
	}
	for _, m := range WorkMeters() {
		assert.True(t, IsWorkMeter(m), "work meter %q", m)
		assert.False(t, IsEdgeMeter(m), "work meter %q", m)
	}
}
