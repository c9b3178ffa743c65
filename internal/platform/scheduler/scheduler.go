// Package scheduler runs named background jobs on fixed intervals. Jobs must
// be idempotent: external cron may invoke the same work through the CLI while
// the in-process scheduler is running.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/platform/telemetry"
)

// JobFunc is the unit of scheduled work. The context is cancelled on shutdown.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Scheduler drives registered jobs on their intervals until Stop or context
// cancellation. Each run is isolated: a panic or error in one run is logged
// and recorded, never fatal to the loop.
type Scheduler struct {
	logger  zerolog.Logger
	metrics *telemetry.Registry

	mu      sync.Mutex
	jobs    []job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler. metrics may be nil.
func New(logger zerolog.Logger, metrics *telemetry.Registry) *Scheduler {
	return &Scheduler{
		logger:  logger.With().Str("component", "scheduler").Logger(),
		metrics: metrics,
	}
}

// RegisterJob adds a job. Must be called before Start.
func (s *Scheduler) RegisterJob(name string, interval time.Duration, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %v", name, interval)
	}
	if fn == nil {
		return fmt.Errorf("job %q: fn is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cannot register job %q: scheduler already started", name)
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %q already registered", name)
		}
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches one goroutine per registered job. It returns immediately;
// Stop (or cancelling ctx) shuts the loops down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	jobs := make([]job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runLoop(runCtx, j)
	}

	s.logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	return nil
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce executes a single job run with panic isolation and metrics.
func (s *Scheduler) runOnce(ctx context.Context, j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job", j.name).
				Interface("panic", r).
				Msg("job panicked")
			if s.metrics != nil {
				s.metrics.Counter("scheduler_job_panics_total", "job", j.name).Inc()
			}
		}
	}()

	err := j.fn(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.Counter("scheduler_job_runs_total", "job", j.name).Inc()
		s.metrics.Histogram("scheduler_job_duration_seconds", "job", j.name).Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.Counter("scheduler_job_errors_total", "job", j.name).Inc()
		}
	}

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job", j.name).
			Dur("duration", elapsed).
			Msg("job run failed")
		return
	}

	s.logger.Debug().
		Str("job", j.name).
		Dur("duration", elapsed).
		Msg("job run completed")
}
