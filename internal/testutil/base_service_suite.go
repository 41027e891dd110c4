package testutil

import (
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/config"
	"github.com/kachi-io/kachi/internal/logger"
)

// Stores bundles the in-memory repositories backing a service test
type Stores struct {
	Events     *InMemoryEventStore
	Meters     *InMemoryMeterReadingStore
	Customers  *InMemoryCustomerStore
	Workflows  *InMemoryWorkflowStore
	CostLedger *InMemoryCostLedgerStore
	Outcomes   *InMemoryOutcomeStore
	RatedUsage *InMemoryRatedUsageStore
	AuditLog   *InMemoryAuditLogStore
}

func NewStores() *Stores {
	workflows := NewInMemoryWorkflowStore()
	return &Stores{
		Events:     NewInMemoryEventStore(),
		Meters:     NewInMemoryMeterReadingStore(),
		Customers:  NewInMemoryCustomerStore(),
		Workflows:  workflows,
		CostLedger: NewInMemoryCostLedgerStore(),
		Outcomes:   NewInMemoryOutcomeStore(workflows),
		RatedUsage: NewInMemoryRatedUsageStore(),
		AuditLog:   NewInMemoryAuditLogStore(),
	}
}

// BaseServiceSuite wires fresh in-memory stores, a nop logger and a default
// config before every test.
type BaseServiceSuite struct {
	suite.Suite
	stores *Stores
	logger *logger.Logger
	config *config.Configuration
}

func (s *BaseServiceSuite) SetupTest() {
	s.stores = NewStores()
	s.logger = logger.NewNopLogger()
	s.config = config.GetDefaultConfig()
}

func (s *BaseServiceSuite) GetStores() *Stores {
	return s.stores
}

func (s *BaseServiceSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceSuite) GetConfig() *config.Configuration {
	return s.config
}
