package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrotarot/astrotarot/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	ttls     map[string]time.Duration
	err      error
	released []string
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}, ttls: map[string]time.Duration{}}
}

func (l *memLocker) TryLock(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[name] {
		return nil, nil
	}
	l.held[name] = true
	l.ttls[name] = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released = append(l.released, name)
		return nil
	}, nil
}

func TestRunJob_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		run  func(context.Context) (int, error)
		want string
	}{
		{"success", func(context.Context) (int, error) { return 3, nil }, OutcomeSuccess},
		{"error", func(context.Context) (int, error) { return 0, errors.New("db down") }, OutcomeFailed},
		{"panic", func(context.Context) (int, error) { panic("boom") }, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := metrics.NewInMemory()
			locker := newMemLocker()
			s := NewScheduler(locker, testLogger(), rec)

			got := s.RunJob(context.Background(), Job{Name: "probe", Interval: time.Minute, Run: tt.run})

			assert.Equal(t, tt.want, got)
			assert.Equal(t, uint64(1), rec.Snapshot().JobRuns["probe/"+tt.want])
			assert.Equal(t, []string{"job:probe"}, locker.released)
			assert.Equal(t, time.Minute, locker.ttls["job:probe"])
		})
	}
}

func TestRunJob_LockHeldElsewhere(t *testing.T) {
	rec := metrics.NewInMemory()
	locker := newMemLocker()
	locker.held["job:probe"] = true
	s := NewScheduler(locker, testLogger(), rec)

	var ran bool
	got := s.RunJob(context.Background(), Job{Name: "probe", Interval: time.Minute, Run: func(context.Context) (int, error) {
		ran = true
		return 0, nil
	}})

	assert.Equal(t, OutcomeSkipped, got)
	assert.False(t, ran)
	assert.Equal(t, uint64(1), rec.Snapshot().JobRuns["probe/skipped"])
}

func TestRunJob_LockError(t *testing.T) {
	locker := newMemLocker()
	locker.err = errors.New("redis unavailable")
	s := NewScheduler(locker, testLogger(), nil)

	got := s.RunJob(context.Background(), Job{Name: "probe", Interval: time.Minute, Run: func(context.Context) (int, error) {
		t.Fatal("job must not run without the lock")
		return 0, nil
	}})
	assert.Equal(t, OutcomeFailed, got)
}

func TestRunJob_Timeout(t *testing.T) {
	s := NewScheduler(nil, testLogger(), nil)

	got := s.RunJob(context.Background(), Job{
		Name:     "slow",
		Interval: time.Minute,
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})
	assert.Equal(t, OutcomeFailed, got)
}

func TestScheduler_RunAndShutdown(t *testing.T) {
	s := NewScheduler(newMemLocker(), testLogger(), nil)

	var runs atomic.Int32
	s.Add(Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 1, nil
	}})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
}

func TestScheduler_RunTwice(t *testing.T) {
	s := NewScheduler(nil, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.started
	}, time.Second, time.Millisecond)

	assert.Error(t, s.Run(ctx))
	cancel()
	assert.NoError(t, <-errCh)
}

func TestScheduler_ShutdownBeforeRun(t *testing.T) {
	s := NewScheduler(nil, testLogger(), nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
