package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/api/middleware"
	v1 "github.com/kachi-io/kachi/internal/api/v1"
)

type Handlers struct {
	Health     *v1.HealthHandler
	Ingest     *v1.IngestHandler
	Customer   *v1.CustomerHandler
	Rating     *v1.RatingHandler
	Cost       *v1.CostHandler
	Outcome    *v1.OutcomeHandler
	Anomaly    *v1.AnomalyHandler
	Operations *v1.OperationsHandler
}

func NewRouter(handlers Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	// Ingest routes
	router.POST("/traces", handlers.Ingest.IngestTraces)

	// Outcome routes
	outcomes := router.Group("/outcomes")
	{
		outcomes.POST("", handlers.Ingest.IngestOutcome)
		outcomes.POST("/verification", handlers.Outcome.Verification)
		outcomes.POST("/:id/reverse", handlers.Outcome.Reverse)
	}

	// Customer routes
	customers := router.Group("/customers")
	{
		customers.POST("", handlers.Customer.CreateCustomer)
		customers.GET("", handlers.Customer.ListCustomers)
		customers.GET("/:id", handlers.Customer.GetCustomer)
		customers.POST("/:id/deactivate", handlers.Customer.DeactivateCustomer)
		customers.GET("/:id/export", handlers.Rating.GetExport)
		customers.POST("/:id/export/mark", handlers.Rating.MarkExported)
		customers.GET("/:id/cogs", handlers.Cost.GetCOGS)
		customers.GET("/:id/margin", handlers.Cost.GetMargin)
		customers.GET("/:id/anomalies", handlers.Anomaly.ScanCustomer)
	}

	// Rating routes
	router.POST("/usage/preview", handlers.Rating.PreviewUsage)
	router.POST("/adjustments", handlers.Rating.RecordAdjustment)

	// Operator routes
	operations := router.Group("/operations")
	{
		operations.POST("/reprocess", handlers.Operations.Reprocess)
		operations.POST("/rating-run", handlers.Operations.RunRating)
	}
	connectors := router.Group("/connectors")
	{
		connectors.GET("", handlers.Operations.ConnectorHealth)
		connectors.POST("/:name/run", handlers.Operations.RunConnector)
	}
	router.GET("/audit/:subject", handlers.Operations.AuditTrail)
}
