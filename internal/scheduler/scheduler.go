package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kachi-io/kachi/internal/logger"
)

const (
	retryInitialInterval = time.Minute
	retryMaxAttempts     = 3

	// resultHistory bounds the kept per-cycle result records
	resultHistory = 100
)

// Cycle is one recurring duty: a name, a cadence and a run function. The run
// context carries a deadline of one cadence interval.
type Cycle struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// CycleResult records one completed cycle run
type CycleResult struct {
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempts   int
	Err        error
}

// Scheduler drives the recurring duty cycles. Each cycle ticks on its own
// cadence; a failed run retries with exponential backoff before the cycle
// goes back to sleep.
type Scheduler struct {
	cycles []Cycle
	logger *logger.Logger

	mu      sync.Mutex
	results []CycleResult

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(log *logger.Logger, cycles ...Cycle) *Scheduler {
	return &Scheduler{cycles: cycles, logger: log}
}

// Start launches every cycle. Cycles run once immediately, then on cadence.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, cycle := range s.cycles {
		s.wg.Add(1)
		go s.runCycle(ctx, cycle)
	}
	s.logger.Infow("scheduler started", "cycles", len(s.cycles))
}

// Stop cancels all cycles and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Infow("scheduler stopped")
}

func (s *Scheduler) runCycle(ctx context.Context, cycle Cycle) {
	defer s.wg.Done()

	ticker := time.NewTicker(cycle.Every)
	defer ticker.Stop()

	s.runOnce(ctx, cycle)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, cycle)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, cycle Cycle) {
	runCtx, cancel := context.WithTimeout(ctx, cycle.Every)
	defer cancel()

	result := CycleResult{Name: cycle.Name, StartedAt: time.Now().UTC()}

	policy := backoff.WithContext(newRetryPolicy(), runCtx)
	err := backoff.Retry(func() error {
		result.Attempts++
		if err := cycle.Run(runCtx); err != nil {
			s.logger.Warnw("cycle run failed",
				"cycle", cycle.Name,
				"attempt", result.Attempts,
				"error", err,
			)
			return err
		}
		return nil
	}, policy)

	result.FinishedAt = time.Now().UTC()
	result.Err = err
	s.record(result)

	if err != nil {
		s.logger.Errorw("cycle exhausted retries",
			"cycle", cycle.Name,
			"attempts", result.Attempts,
			"error", err,
		)
	} else {
		s.logger.Infow("cycle finished",
			"cycle", cycle.Name,
			"attempts", result.Attempts,
			"duration", result.FinishedAt.Sub(result.StartedAt),
		)
	}
}

// newRetryPolicy doubles from one minute, capped at three attempts
func newRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.Multiplier = 2
	policy.MaxInterval = 4 * time.Minute
	policy.RandomizationFactor = 0
	return backoff.WithMaxRetries(policy, retryMaxAttempts-1)
}

func (s *Scheduler) record(result CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	if len(s.results) > resultHistory {
		s.results = s.results[len(s.results)-resultHistory:]
	}
}

// Results returns a copy of the recent cycle results
func (s *Scheduler) Results() []CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CycleResult(nil), s.results...)
}
