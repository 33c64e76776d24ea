// Package jobs runs periodic maintenance for the ledger. None of the jobs
// touch balances or order state.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	pruneSchedule = "0 0 3 * * *"   // every day at 03:00
	sweepSchedule = "0 */5 * * * *" // every five minutes
)

type AttemptPruner interface {
	PruneAttempts(ctx context.Context, retention time.Duration) (int64, error)
}

// LimiterSweeper drops idle in-process rate limit windows.
type LimiterSweeper interface {
	Sweep(maxAge time.Duration) int
}

type Scheduler struct {
	cron      *cron.Cron
	pruner    AttemptPruner
	sweeper   LimiterSweeper
	retention time.Duration
	sweepAge  time.Duration
	logger    *zap.Logger
}

// NewScheduler registers the maintenance jobs. sweeper may be nil when the
// limiter lives in Redis and expires on its own.
func NewScheduler(pruner AttemptPruner, sweeper LimiterSweeper, retention, sweepAge time.Duration, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		pruner:    pruner,
		sweeper:   sweeper,
		retention: retention,
		sweepAge:  sweepAge,
		logger:    logger,
	}

	if _, err := s.cron.AddFunc(pruneSchedule, s.PruneAttempts); err != nil {
		return nil, fmt.Errorf("failed to add prune job: %w", err)
	}
	if sweeper != nil {
		if _, err := s.cron.AddFunc(sweepSchedule, s.SweepLimiter); err != nil {
			return nil, fmt.Errorf("failed to add sweep job: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron jobs started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits up to timeout for running jobs.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("Cron jobs stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Cron jobs forced to stop after timeout")
	}
}

func (s *Scheduler) PruneAttempts() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.pruner.PruneAttempts(ctx, s.retention)
	if err != nil {
		s.logger.Error("Failed to prune promo attempts", zap.Error(err))
		return
	}
	s.logger.Info("Pruned promo attempts", zap.Int64("rows", n), zap.Duration("retention", s.retention))
}

func (s *Scheduler) SweepLimiter() {
	n := s.sweeper.Sweep(s.sweepAge)
	if n > 0 {
		s.logger.Debug("Swept idle rate limit keys", zap.Int("keys", n))
	}
}
