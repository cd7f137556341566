// Package scheduler runs periodic background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/lclpedro/hyperhook/internal/ports"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	logger ports.Logger
}

// New creates a scheduler whose schedules include a seconds field.
func New(logger ports.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(context.Background(), "Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info(context.Background(), "Scheduler stopped")
}

// AddJob registers a job with a cron schedule, e.g. "0 */5 * * * *" or "@hourly".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	ctx := context.Background()
	_, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug(ctx, "Running job", map[string]interface{}{"job": job.Name()})
		if err := job.Run(); err != nil {
			s.logger.Error(ctx, err, "Job failed", map[string]interface{}{"job": job.Name()})
			return
		}
		s.logger.Debug(ctx, "Job completed", map[string]interface{}{"job": job.Name()})
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w: %w", schedule, job.Name(), ports.ErrConfigurationError, err)
	}

	s.logger.Info(ctx, "Job registered", map[string]interface{}{"schedule": schedule, "job": job.Name()})
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.logger.Info(context.Background(), "Running job immediately", map[string]interface{}{"job": job.Name()})
	return job.Run()
}
