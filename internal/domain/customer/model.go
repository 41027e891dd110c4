package customer

import (
	"context"

	"github.com/kachi-io/kachi/internal/types"
)

// Customer is a billable account. Customers are created administratively and
// referenced by every other entity in the pipeline.
type Customer struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Currency    string `db:"currency" json:"currency"`

	// ExternalBillingID is this customer's id in the external billing provider
	ExternalBillingID string `db:"external_billing_id" json:"external_billing_id,omitempty"`

	Active bool `db:"active" json:"active"`

	types.BaseModel
}

type Repository interface {
	Create(ctx context.Context, customer *Customer) error
	Get(ctx context.Context, id string) (*Customer, error)
	// Exists is a cheap existence probe used on the ingest hot path
	Exists(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context) ([]*Customer, error)
	Update(ctx context.Context, customer *Customer) error
}
