// Package worker runs periodic background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astrotarot/astrotarot/internal/metrics"
)

// Job outcomes reported to metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Job is a periodic task. Run returns the number of items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run; zero means Interval.
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

func (j Job) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return j.Interval
}

// Locker grants exclusive job runs across processes. A nil unlock with a
// nil error means another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// Scheduler runs each job on its own ticker.
type Scheduler struct {
	locker  Locker
	logger  *slog.Logger
	metrics metrics.Recorder
	jobs    []Job

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a scheduler. A nil locker runs jobs without
// coordination.
func NewScheduler(locker Locker, logger *slog.Logger, recorder metrics.Recorder) *Scheduler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Scheduler{
		locker:  locker,
		logger:  logger.With("component", "scheduler"),
		metrics: recorder,
	}
}

// Add registers a job. Jobs added after Run are ignored.
func (s *Scheduler) Add(jobs ...Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

// Run starts all jobs and blocks until ctx is cancelled or Shutdown is
// called. In-flight runs finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	defer close(s.done)

	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.logger.Warn("job ignored", "job", job.Name)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}

	s.logger.Info("scheduler started", "jobs", len(jobs))
	<-ctx.Done()
	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Shutdown stops the scheduler and waits for in-flight runs.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunJob(ctx, job)
		}
	}
}

// RunJob runs one job now under its lock and returns the outcome.
func (s *Scheduler) RunJob(ctx context.Context, job Job) string {
	log := s.logger.With("job", job.Name)

	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, "job:"+job.Name, job.timeout())
		if err != nil {
			log.Warn("job lock failed", "error", err)
			s.metrics.IncJobRun(job.Name, OutcomeFailed)
			return OutcomeFailed
		}
		if unlock == nil {
			log.Debug("job running elsewhere")
			s.metrics.IncJobRun(job.Name, OutcomeSkipped)
			return OutcomeSkipped
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				log.Warn("job unlock failed", "error", err)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, job.timeout())
	defer cancel()

	start := time.Now()
	n, err := safeRun(runCtx, job)
	duration := time.Since(start)

	if err != nil {
		log.Error("job failed", "error", err, "handled", n, "duration_ms", duration.Milliseconds())
		s.metrics.IncJobRun(job.Name, OutcomeFailed)
		return OutcomeFailed
	}

	if n > 0 {
		log.Info("job done", "handled", n, "duration_ms", duration.Milliseconds())
	} else {
		log.Debug("job done", "handled", 0, "duration_ms", duration.Milliseconds())
	}
	s.metrics.IncJobRun(job.Name, OutcomeSuccess)
	return OutcomeSuccess
}

func safeRun(ctx context.Context, job Job) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job.Run(ctx)
}
