// Package scheduler drives the periodic jobs: ACM sync, fleet scan, expiry
// monitoring, and ticket creation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/certops/certdash/internal/logging"
)

// Job is one scheduled unit of work. Run failures are logged and the job is
// retried on the next tick.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs sequentially once per interval, starting with an
// immediate pass. Jobs do not overlap within one scheduler; manual API
// triggers may still run concurrently, which the reconciliation pipeline
// tolerates.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	logger   logging.Logger
}

func New(interval time.Duration, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		interval: interval,
		logger:   logger.With("module", "scheduler"),
	}
}

func (s *Scheduler) Add(name string, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Name: name, Run: run})
}

// Run blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info(ctx, "scheduler started", "interval", s.interval.String(), "jobs", len(s.jobs))

	s.runAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// RunJob runs a single named job once, for one-off invocations outside the
// ticker loop.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	return names
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error(ctx, "job failed", "job", job.Name, "error", err)
			continue
		}
		s.logger.Info(ctx, "job finished", "job", job.Name, "took", time.Since(start).String())
	}
}
