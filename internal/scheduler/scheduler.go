// Package scheduler runs the periodic index-convergence sweep.
//
// The trigger layer keeps the search index current under normal
// operation, but its writes are best-effort: a store outage while
// handling an event can leave an entity and its index entry out of
// sync. The sweep rebuilds the whole index on a cron schedule so any
// drift converges without operator intervention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"prospect/internal/logging"
)

const sweepJobName = "index-sweep"

// Rebuilder is the sweep target, satisfied by trigger.Maintainer.
type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Sweeper owns the cron scheduler for the convergence sweep.
type Sweeper struct {
	scheduler gocron.Scheduler
	target    Rebuilder
	logger    *slog.Logger
}

// New creates a Sweeper around target. The sweep does not run until
// Schedule and Start are called.
func New(target Rebuilder, logger *slog.Logger) (*Sweeper, error) {
	logger = logging.Default(logger).With("component", "sweeper")
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	return &Sweeper{scheduler: s, target: target, logger: logger}, nil
}

// Schedule registers the sweep job under the given cron expression,
// replacing any previous schedule.
func (s *Sweeper) Schedule(cronExpr string) error {
	for _, j := range s.scheduler.Jobs() {
		if j.Name() == sweepJobName {
			if err := s.scheduler.RemoveJob(j.ID()); err != nil {
				s.logger.Warn("failed to remove previous sweep job", "error", err)
			}
		}
	}
	_, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, true),
		gocron.NewTask(s.sweep),
		gocron.WithName(sweepJobName),
	)
	if err != nil {
		return fmt.Errorf("schedule index sweep: %w", err)
	}
	s.logger.Info("index sweep scheduled", "cron", cronExpr)
	return nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	processed, err := s.target.Rebuild(ctx)
	if err != nil {
		s.logger.Error("index sweep failed", "processed", processed, "error", err)
		return
	}
	s.logger.Info("index sweep complete",
		"processed", processed,
		"duration", time.Since(start))
}

// Start begins executing the registered sweep.
func (s *Sweeper) Start() {
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}
