package testutil

import "context"

// SetupContext returns the context used across service tests
func SetupContext() context.Context {
	return context.Background()
}
