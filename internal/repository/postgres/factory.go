package postgres

import (
	"github.com/kachi-io/kachi/internal/domain/auditlog"
	"github.com/kachi-io/kachi/internal/domain/costledger"
	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/domain/events"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/domain/outcome"
	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	"github.com/kachi-io/kachi/internal/domain/workflow"
	"github.com/kachi-io/kachi/internal/logger"
)

// Repositories bundles every postgres-backed store
type Repositories struct {
	Events     events.Repository
	Meters     metering.Repository
	Customers  customer.Repository
	Workflows  workflow.Repository
	CostLedger costledger.Repository
	Outcomes   outcome.Repository
	RatedUsage ratedusage.Repository
	AuditLog   auditlog.Repository
}

func NewRepositories(client *Client, log *logger.Logger) *Repositories {
	return &Repositories{
		Events:     NewEventRepository(client, log),
		Meters:     NewMeterReadingRepository(client, log),
		Customers:  NewCustomerRepository(client, log),
		Workflows:  NewWorkflowRepository(client, log),
		CostLedger: NewCostLedgerRepository(client, log),
		Outcomes:   NewOutcomeRepository(client, log),
		RatedUsage: NewRatedUsageRepository(client, log),
		AuditLog:   NewAuditLogRepository(client, log),
	}
}
