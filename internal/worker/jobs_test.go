package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifications struct {
	dispatched int
	expired    int
	reminded   int
	expireErr  error
	limits     []int
}

func (s *stubNotifications) DispatchDailyHoroscopes(context.Context) (int, error) {
	return s.dispatched, nil
}

func (s *stubNotifications) ExpireSubscriptions(_ context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return s.expired, s.expireErr
}

func (s *stubNotifications) SendExpiryReminders(_ context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return s.reminded, nil
}

type stubReconciler struct {
	cutoff time.Time
	limit  int
}

func (s *stubReconciler) Reconcile(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.cutoff, s.limit = cutoff, limit
	return 1, nil
}

func jobByName(t *testing.T, jobs []Job, name string) Job {
	t.Helper()
	for _, j := range jobs {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("job %s not registered", name)
	return Job{}
}

func TestJobs_Schedule(t *testing.T) {
	jobs := Jobs(&stubNotifications{}, &stubReconciler{}, JobsConfig{})
	require.Len(t, jobs, 3)

	assert.Equal(t, time.Minute, jobByName(t, jobs, JobDailyHoroscope).Interval)
	assert.Equal(t, 10*time.Minute, jobByName(t, jobs, JobSubscriptions).Interval)
	assert.Equal(t, 2*time.Minute, jobByName(t, jobs, JobPaymentReconcile).Interval)

	for _, j := range jobs {
		assert.LessOrEqual(t, j.timeout(), j.Interval, j.Name)
	}
}

func TestJobs_Subscriptions(t *testing.T) {
	n := &stubNotifications{expired: 2, reminded: 3}
	job := jobByName(t, Jobs(n, &stubReconciler{}, JobsConfig{BatchSize: 25}), JobSubscriptions)

	handled, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, handled)
	assert.Equal(t, []int{25, 25}, n.limits)
}

func TestJobs_SubscriptionsKeepsRemindingOnExpiryError(t *testing.T) {
	n := &stubNotifications{reminded: 3, expireErr: errors.New("deadlock")}
	job := jobByName(t, Jobs(n, &stubReconciler{}, JobsConfig{}), JobSubscriptions)

	handled, err := job.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, handled)
}

func TestJobs_PaymentReconcileCutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &stubReconciler{}
	job := jobByName(t, Jobs(&stubNotifications{}, r, JobsConfig{
		BatchSize:  10,
		PendingAge: 5 * time.Minute,
		Now:        func() time.Time { return now },
	}), JobPaymentReconcile)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-5*time.Minute), r.cutoff)
	assert.Equal(t, 10, r.limit)
}
