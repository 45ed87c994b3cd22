// Package scheduler provides periodic execution of detection passes and
// event syncs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/secops-alerts/common/logging"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs each job on its own ticker until stopped.
type Scheduler struct {
	jobs    []Job
	logger  *slog.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Add registers a job. Jobs with a non-positive interval are disabled.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 {
		s.logger.Info("scheduled job disabled", slog.String("job", name))
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Len returns the number of enabled jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Start launches every job. Each job runs once immediately, then on every
// tick. Start must be called at most once.
func (s *Scheduler) Start(ctx context.Context) {
	s.started = true
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop signals all jobs to stop and waits for them to finish.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.logger.Info("scheduled job started", slog.String("job", job.Name), slog.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.run(ctx, job)

	for {
		select {
		case <-ticker.C:
			s.run(ctx, job)
		case <-s.stop:
			s.logger.Info("scheduled job stopped", slog.String("job", job.Name))
			return
		case <-ctx.Done():
			s.logger.Info("scheduled job context cancelled", slog.String("job", job.Name))
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", slog.String("job", job.Name), slog.Any("panic", r))
			return
		}
		s.logger.Debug("scheduled job finished", slog.String("job", job.Name), logging.Duration(time.Since(start)))
	}()
	job.Run(ctx)
}
