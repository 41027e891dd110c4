package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	UUID_PREFIX_CUSTOMER     = "cust"
	UUID_PREFIX_WORKFLOW_DEF = "wfd"
	UUID_PREFIX_WORKFLOW_RUN = "run"
	UUID_PREFIX_VERIFICATION = "ver"
	UUID_PREFIX_CONNECTOR    = "conn"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return strings.ToLower(ulid.Make().String())
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex cust_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

// ParseCustomerID parses a customer id as it arrives on telemetry attributes.
// Telemetry carries plain UUIDs; anything else is rejected.
func ParseCustomerID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
