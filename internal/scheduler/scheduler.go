package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single sweep run so a stuck store cannot pile up
// overlapping jobs.
const sweepTimeout = 2 * time.Minute

// Sweeper is the part of the incubator engine the scheduler drives.
type Sweeper interface {
	SweepExpiredCards(ctx context.Context) (int, error)
	SweepExpiredSessions(ctx context.Context) (int, error)
}

// Scheduler runs the two reconciliation sweeps on cron schedules. The
// sweeps are idempotent, so the ordering between the two jobs does not
// matter.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New registers the sweep jobs using the provided cron expressions.
func New(engine Sweeper, cardSchedule, sessionSchedule string, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New()

	if _, err := c.AddFunc(sessionSchedule, runSweep(logger, "sessions", engine.SweepExpiredSessions)); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cardSchedule, runSweep(logger, "cards", engine.SweepExpiredCards)); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running the scheduled sweeps in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func runSweep(logger *slog.Logger, name string, sweep func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		n, err := sweep(ctx)
		if err != nil {
			logger.Error("sweep failed", "sweep", name, "error", err)
			return
		}
		if n > 0 {
			logger.Info("sweep run", "sweep", name, "advanced", n)
		}
	}
}
