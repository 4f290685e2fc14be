// Package scheduler runs recurring background jobs on fixed intervals. A
// failing or panicking iteration is logged and counted; the next tick
// still runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
)

// Job is one recurring task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single iteration. Zero means the interval.
	Timeout time.Duration
	// RunOnStart runs one iteration immediately instead of waiting for the
	// first tick.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	jobs    []Job
	metrics *metrics.Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		metrics: m,
		logger:  slog.Default().With("component", "scheduler"),
	}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches every job in its own goroutine. They stop when ctx is
// cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("job disabled, non-positive interval", "job", job.Name)
			continue
		}
		s.wg.Go(func() { s.loop(ctx, job) })
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.logger.With("job", job.Name)
	log.Info("job scheduled", "interval", job.Interval)

	if job.RunOnStart {
		s.RunOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("job stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs a single iteration of job, converting a panic into an
// error. The result is logged and recorded in metrics.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) (err error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := s.logger.With("job", job.Name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveJob(job.Name, elapsed, err)
		}
		if err != nil {
			log.Error("job failed", "duration", elapsed, "error", err)
			return
		}
		log.Debug("job finished", "duration", elapsed)
	}()

	return job.Run(ctx)
}
