package service

import (
	"github.com/kachi-io/kachi/internal/config"
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

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	EventRepo      events.Repository
	MeterRepo      metering.Repository
	CustomerRepo   customer.Repository
	WorkflowRepo   workflow.Repository
	CostLedgerRepo costledger.Repository
	OutcomeRepo    outcome.Repository
	RatedUsageRepo ratedusage.Repository
	AuditLogRepo   auditlog.Repository
}
