package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kachi-io/kachi/internal/config"
	"github.com/kachi-io/kachi/internal/domain/customer"
	"github.com/kachi-io/kachi/internal/domain/events"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/metrics"
	"github.com/kachi-io/kachi/internal/service"
	"github.com/kachi-io/kachi/internal/types"
)

// keyedMutex serializes work per key. Rating uses it so two cycles never
// rate the same customer concurrently in one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// CycleDeps bundles everything the standard duty cycles need
type CycleDeps struct {
	Config    *config.Configuration
	Logger    *logger.Logger
	Deriver   service.DeriverService
	Rating    service.RatingService
	Anomaly   service.AnomalyService
	Collector *metrics.Collector

	Customers  customer.Repository
	Events     events.Repository
	Meters     metering.Repository
	RatedUsage ratedusage.Repository
}

// StandardCycles builds the default duty cycle set
func StandardCycles(deps CycleDeps) []Cycle {
	locks := newKeyedMutex()
	var monthlyMu sync.Mutex
	var lastMonthRated time.Time

	cycles := []Cycle{
		{
			Name:  "recent-events",
			Every: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := deps.Deriver.DeriveRecent(ctx)
				return err
			},
		},
		{
			Name:  "daily-rating",
			Every: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				period := types.DayWindow(time.Now().UTC().AddDate(0, 0, -1))
				return rateAll(ctx, deps, locks, period)
			},
		},
		{
			Name:  "monthly-rating",
			Every: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				period := types.PreviousMonthWindow(time.Now().UTC())

				monthlyMu.Lock()
				alreadyRated := !lastMonthRated.Before(period.End)
				monthlyMu.Unlock()
				if alreadyRated {
					return nil
				}
				if err := rateAll(ctx, deps, locks, period); err != nil {
					return err
				}
				monthlyMu.Lock()
				lastMonthRated = period.End
				monthlyMu.Unlock()
				return nil
			},
		},
		{
			Name:  "anomaly-scan",
			Every: time.Hour,
			Run: func(ctx context.Context) error {
				anomalies, err := deps.Anomaly.ScanAll(ctx)
				if err != nil {
					return err
				}
				for _, a := range anomalies {
					deps.Logger.Warnw("usage anomaly detected",
						"customer_id", a.CustomerID,
						"type", a.Type,
						"meter_key", a.MeterKey,
						"message", a.Message,
					)
				}
				return nil
			},
		},
		{
			Name:  "cleanup",
			Every: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				return cleanup(ctx, deps)
			},
		},
	}

	if deps.Collector != nil {
		cycles = append(cycles, Cycle{
			Name:  "external-metrics",
			Every: deps.Config.Metrics.Interval(),
			Run: func(ctx context.Context) error {
				_, err := deps.Collector.RunAll(ctx)
				return err
			},
		})
	}
	return cycles
}

// rateAll rates every active customer for the period with bounded
// concurrency, serializing per customer.
func rateAll(ctx context.Context, deps CycleDeps, locks *keyedMutex, period types.Window) error {
	customers, err := deps.Customers.ListActive(ctx)
	if err != nil {
		return err
	}

	p := pool.New().
		WithMaxGoroutines(deps.Config.Rating.WorkerConcurrency).
		WithContext(ctx)
	for _, c := range customers {
		p.Go(func(ctx context.Context) error {
			lock := locks.get(c.ID)
			lock.Lock()
			defer lock.Unlock()
			_, err := deps.Rating.RateCustomerPeriod(ctx, c.ID, period)
			return err
		})
	}
	return p.Wait()
}

func cleanup(ctx context.Context, deps CycleDeps) error {
	now := time.Now().UTC()
	eventCutoff := now.AddDate(0, 0, -deps.Config.Retention.EventRetentionDays)
	ratedCutoff := now.AddDate(0, 0, -deps.Config.Retention.RatedUsageRetentionDays)

	deletedEvents, err := deps.Events.DeleteBefore(ctx, eventCutoff)
	if err != nil {
		return err
	}
	// readings share the rated-usage retention, they back its drill-down
	deletedReadings, err := deps.Meters.DeleteBefore(ctx, ratedCutoff)
	if err != nil {
		return err
	}
	deletedRated, err := deps.RatedUsage.DeleteBefore(ctx, ratedCutoff)
	if err != nil {
		return err
	}

	deps.Logger.Infow("retention cleanup finished",
		"events_deleted", deletedEvents,
		"readings_deleted", deletedReadings,
		"rated_usage_deleted", deletedRated,
	)
	return nil
}
