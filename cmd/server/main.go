package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/kachi-io/kachi/internal/api"
	v1 "github.com/kachi-io/kachi/internal/api/v1"
	"github.com/kachi-io/kachi/internal/config"
	"github.com/kachi-io/kachi/internal/domain/rating"
	"github.com/kachi-io/kachi/internal/httpclient"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/metrics"
	"github.com/kachi-io/kachi/internal/repository/postgres"
	"github.com/kachi-io/kachi/internal/scheduler"
	"github.com/kachi-io/kachi/internal/service"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			postgres.NewClient,
			postgres.NewRepositories,
			httpclient.NewDefaultClient,
			newServiceParams,
			newPolicyProvider,
			service.NewCustomerService,
			service.NewOutcomeService,
			service.NewIngestionService,
			service.NewDeriverService,
			service.NewCOGSService,
			service.NewRatingService,
			service.NewAnomalyService,
			service.NewExportService,
			newMetricsRegistry,
			newTransformer,
			newCollector,
			newScheduler,
			newHandlers,
			newRouter,
		),
		fx.Invoke(run),
	)
	app.Run()
}

func newServiceParams(cfg *config.Configuration, log *logger.Logger, repos *postgres.Repositories) service.ServiceParams {
	return service.ServiceParams{
		Logger:         log,
		Config:         cfg,
		EventRepo:      repos.Events,
		MeterRepo:      repos.Meters,
		CustomerRepo:   repos.Customers,
		WorkflowRepo:   repos.Workflows,
		CostLedgerRepo: repos.CostLedger,
		OutcomeRepo:    repos.Outcomes,
		RatedUsageRepo: repos.RatedUsage,
		AuditLogRepo:   repos.AuditLog,
	}
}

func newPolicyProvider() service.PolicyProvider {
	return service.NewStaticPolicyProvider(rating.DefaultPolicy())
}

// newMetricsRegistry wires the configured external metric sources. With no
// endpoint configured the registry stays empty and collection is a no-op.
func newMetricsRegistry(cfg *config.Configuration, client httpclient.Client, log *logger.Logger) (*metrics.Registry, error) {
	registry := metrics.NewRegistry()
	if cfg.Prometheus.Endpoint == "" {
		return registry, nil
	}
	sourceCfg := metrics.SourceConfig{
		Name:        "prometheus",
		SourceType:  "prometheus",
		Endpoint:    cfg.Prometheus.Endpoint,
		BearerToken: cfg.Prometheus.BearerToken,
		Username:    cfg.Prometheus.Username,
		Password:    cfg.Prometheus.Password,
	}
	if err := registry.Register(sourceCfg, metrics.NewPrometheusConnector(sourceCfg, client, log)); err != nil {
		return nil, err
	}
	return registry, nil
}

func newTransformer(repos *postgres.Repositories, log *logger.Logger) *metrics.Transformer {
	return metrics.NewTransformer(repos.Customers, log)
}

func newCollector(registry *metrics.Registry, transformer *metrics.Transformer, repos *postgres.Repositories, cfg *config.Configuration, log *logger.Logger) *metrics.Collector {
	return metrics.NewCollector(registry, transformer, repos.Meters, cfg, log)
}

func newScheduler(
	cfg *config.Configuration,
	log *logger.Logger,
	repos *postgres.Repositories,
	deriver service.DeriverService,
	ratingSvc service.RatingService,
	anomaly service.AnomalyService,
	collector *metrics.Collector,
) *scheduler.Scheduler {
	cycles := scheduler.StandardCycles(scheduler.CycleDeps{
		Config:     cfg,
		Logger:     log,
		Deriver:    deriver,
		Rating:     ratingSvc,
		Anomaly:    anomaly,
		Collector:  collector,
		Customers:  repos.Customers,
		Events:     repos.Events,
		Meters:     repos.Meters,
		RatedUsage: repos.RatedUsage,
	})
	return scheduler.New(log, cycles...)
}

func newHandlers(
	log *logger.Logger,
	repos *postgres.Repositories,
	ingestion service.IngestionService,
	customers service.CustomerService,
	ratingSvc service.RatingService,
	export service.ExportService,
	cogs service.COGSService,
	outcomes service.OutcomeService,
	anomaly service.AnomalyService,
	deriver service.DeriverService,
	collector *metrics.Collector,
) api.Handlers {
	return api.Handlers{
		Health:     v1.NewHealthHandler(log),
		Ingest:     v1.NewIngestHandler(ingestion, log),
		Customer:   v1.NewCustomerHandler(customers, log),
		Rating:     v1.NewRatingHandler(ratingSvc, export, log),
		Cost:       v1.NewCostHandler(cogs, log),
		Outcome:    v1.NewOutcomeHandler(outcomes, log),
		Anomaly:    v1.NewAnomalyHandler(anomaly, log),
		Operations: v1.NewOperationsHandler(deriver, ratingSvc, collector, repos.AuditLog, log),
	}
}

func newRouter(handlers api.Handlers) *gin.Engine {
	return api.NewRouter(handlers)
}

func run(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	client *postgres.Client,
	sched *scheduler.Scheduler,
	router *gin.Engine,
	log *logger.Logger,
) {
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.EnsureSchema(ctx); err != nil {
				return err
			}
			sched.Start(context.Background())
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorw("server listen failed", "error", err)
				}
			}()
			log.Infow("kachi server started", "address", cfg.Server.Address)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := server.Shutdown(ctx); err != nil {
				log.Errorw("server shutdown failed", "error", err)
			}
			sched.Stop()
			return client.Close()
		},
	})
}
