package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kachi-io/kachi/internal/domain/events"
	"github.com/kachi-io/kachi/internal/domain/metering"
	"github.com/kachi-io/kachi/internal/domain/ratedusage"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/meter"
	"github.com/kachi-io/kachi/internal/testutil"
	"github.com/kachi-io/kachi/internal/types"
)

func TestCycleRunsImmediatelyAndOnCadence(t *testing.T) {
	var runs atomic.Int32
	sched := New(logger.NewNopLogger(), Cycle{
		Name:  "counter",
		Every: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	sched.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	sched.Stop()

	results := sched.Results()
	require.NotEmpty(t, results)
	assert.Equal(t, "counter", results[0].Name)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Attempts)
}

func TestFailingCycleRecordsError(t *testing.T) {
	sched := New(logger.NewNopLogger(), Cycle{
		Name:  "flaky",
		Every: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			return ierr.NewError("downstream unavailable").Mark(ierr.ErrSystem)
		},
	})

	sched.Start(context.Background())
	assert.Eventually(t, func() bool { return len(sched.Results()) >= 1 },
		time.Second, 5*time.Millisecond)
	sched.Stop()

	results := sched.Results()
	require.NotEmpty(t, results)
	assert.Error(t, results[0].Err)
	assert.GreaterOrEqual(t, results[0].Attempts, 1)
}

func TestStopWaitsForInflightRuns(t *testing.T) {
	var finished atomic.Bool
	sched := New(logger.NewNopLogger(), Cycle{
		Name:  "slow",
		Every: time.Minute,
		Run: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	sched.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	sched.Stop()
	assert.True(t, finished.Load())
}

type CyclesSuite struct {
	testutil.BaseServiceSuite
}

func TestStandardCycles(t *testing.T) {
	suite.Run(t, new(CyclesSuite))
}

func (s *CyclesSuite) deps() CycleDeps {
	stores := s.GetStores()
	return CycleDeps{
		Config:     s.GetConfig(),
		Logger:     s.GetLogger(),
		Customers:  stores.Customers,
		Events:     stores.Events,
		Meters:     stores.Meters,
		RatedUsage: stores.RatedUsage,
	}
}

func (s *CyclesSuite) TestCycleSetDependsOnCollector() {
	names := func(cycles []Cycle) []string {
		out := make([]string, len(cycles))
		for i, c := range cycles {
			out[i] = c.Name
		}
		return out
	}

	withoutCollector := StandardCycles(s.deps())
	s.Equal([]string{"recent-events", "daily-rating", "monthly-rating", "anomaly-scan", "cleanup"},
		names(withoutCollector))
	s.NotContains(names(withoutCollector), "external-metrics")
}

func (s *CyclesSuite) TestCleanupHonorsRetention() {
	ctx := testutil.SetupContext()
	deps := s.deps()
	stores := s.GetStores()
	customerID := "a1b2c3d4-0000-4000-8000-00000000000c"
	now := time.Now().UTC()

	old := now.AddDate(0, 0, -(deps.Config.Retention.EventRetentionDays + 10))
	s.Require().NoError(stores.Events.Append(ctx, &events.RawEvent{
		CustomerID: customerID,
		TS:         old,
		EventType:  types.EventTypeSpanStarted,
		TraceID:    "trace-old",
		SpanID:     "span-old",
	}))
	s.Require().NoError(stores.Events.Append(ctx, &events.RawEvent{
		CustomerID: customerID,
		TS:         now.Add(-time.Hour),
		EventType:  types.EventTypeSpanStarted,
		TraceID:    "trace-new",
		SpanID:     "span-new",
	}))

	veryOld := now.AddDate(0, 0, -(deps.Config.Retention.RatedUsageRetentionDays + 40))
	s.Require().NoError(stores.Meters.Upsert(ctx, &metering.MeterReading{
		CustomerID: customerID,
		MeterKey:   meter.MeterAPICalls,
		Window:     types.WindowFor(veryOld, 5*time.Minute),
		Value:      decimal.NewFromInt(1),
	}))
	s.Require().NoError(stores.RatedUsage.Upsert(ctx, &ratedusage.RatedUsage{
		ID:         types.GenerateUUID(),
		CustomerID: customerID,
		Period:     types.NewWindow(veryOld.AddDate(0, -1, 0), veryOld),
		BaseModel:  types.GetDefaultBaseModel(),
	}))

	s.Require().NoError(cleanup(ctx, deps))

	remaining, err := stores.Events.Scan(ctx, events.ScanParams{CustomerID: customerID})
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal("trace-new", remaining[0].TraceID)

	window := types.NewWindow(veryOld.AddDate(0, -1, 0), now)
	total, err := stores.Meters.Sum(ctx, customerID, meter.MeterAPICalls, window)
	s.Require().NoError(err)
	s.True(total.IsZero())

	rated, err := stores.RatedUsage.List(ctx, customerID, 10)
	s.Require().NoError(err)
	s.Empty(rated)
}
