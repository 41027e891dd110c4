package metrics

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kachi-io/kachi/internal/config"
	"github.com/kachi-io/kachi/internal/domain/metering"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

// RunResult records the outcome of collecting one connector's mappings
type RunResult struct {
	Connector         string
	StartedAt         time.Time
	FinishedAt        time.Time
	ReadingsCreated   int
	DuplicatesSkipped int
	PointsSkipped     int
	Errors            []string
}

// Collector drives external metric collection: for each connector it probes
// the source, queries every mapping over the recent window, transforms the
// samples and upserts the resulting readings.
type Collector struct {
	registry    *Registry
	transformer *Transformer
	meterRepo   metering.Repository
	cfg         *config.Configuration
	logger      *logger.Logger
}

func NewCollector(registry *Registry, transformer *Transformer, meterRepo metering.Repository, cfg *config.Configuration, log *logger.Logger) *Collector {
	return &Collector{
		registry:    registry,
		transformer: transformer,
		meterRepo:   meterRepo,
		cfg:         cfg,
		logger:      log,
	}
}

// RunAll collects every registered connector with bounded concurrency
func (c *Collector) RunAll(ctx context.Context) ([]*RunResult, error) {
	names := c.registry.Names()
	results := make([]*RunResult, len(names))

	p := pool.New().
		WithMaxGoroutines(c.cfg.Metrics.MaxConcurrent).
		WithContext(ctx)
	for i, name := range names {
		p.Go(func(ctx context.Context) error {
			result, err := c.RunConnector(ctx, name)
			if err != nil {
				// one failing source must not block the others
				c.logger.Errorw("connector run failed", "connector", name, "error", err)
				result = &RunResult{Connector: name, Errors: []string{err.Error()}}
			}
			results[i] = result
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RunConnector collects one connector now. Also the manual trigger path.
func (c *Collector) RunConnector(ctx context.Context, name string) (*RunResult, error) {
	conn, cfg, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Connector: name, StartedAt: time.Now().UTC()}
	defer func() { result.FinishedAt = time.Now().UTC() }()

	if err := conn.TestConnection(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Skipping collection, %s is unreachable", name).
			Mark(ierr.ErrHTTPClient)
	}

	interval := c.cfg.Metrics.Interval()
	end := time.Now().UTC()
	start := end.Add(-interval)

	for _, mapping := range cfg.Mappings {
		if err := c.collectMapping(ctx, conn, cfg, mapping, start, end, result); err != nil {
			result.Errors = append(result.Errors, err.Error())
			c.logger.Errorw("mapping collection failed",
				"connector", name,
				"metric", mapping.ExternalMetricName,
				"meter", mapping.MeterKey,
				"error", err,
			)
		}
	}

	c.logger.Infow("connector run finished",
		"connector", name,
		"readings_created", result.ReadingsCreated,
		"duplicates_skipped", result.DuplicatesSkipped,
		"points_skipped", result.PointsSkipped,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (c *Collector) collectMapping(ctx context.Context, conn Connector, cfg SourceConfig, mapping Mapping, start, end time.Time, result *RunResult) error {
	collection, err := conn.Query(ctx, Query{
		Expr:  mapping.BuildExpr(c.cfg.Metrics.Interval()),
		Start: start,
		End:   end,
		Step:  time.Minute,
	})
	if err != nil {
		return err
	}

	transformed, readings, err := c.transformer.Transform(ctx, cfg.Name, mapping, collection)
	if err != nil {
		return err
	}
	result.ReadingsCreated += transformed.ReadingsCreated
	result.DuplicatesSkipped += transformed.DuplicatesSkipped
	result.PointsSkipped += transformed.PointsSkipped

	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
		if err := c.meterRepo.Upsert(ctx, reading); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck probes every connector and returns per-connector status
func (c *Collector) HealthCheck(ctx context.Context) map[string]error {
	status := make(map[string]error, len(c.registry.Names()))
	for _, name := range c.registry.Names() {
		conn, _, err := c.registry.Get(name)
		if err != nil {
			status[name] = err
			continue
		}
		status[name] = conn.TestConnection(ctx)
	}
	return status
}
