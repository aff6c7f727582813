package worker

import (
	"context"
	"errors"
	"time"

	"github.com/astrotarot/astrotarot/internal/cache"
)

// Job names.
const (
	JobDailyHoroscope   = "daily_horoscope"
	JobSubscriptions    = "subscription_expiry"
	JobPaymentReconcile = "payment_reconcile"
)

// Notifications is implemented by *service.NotificationService.
type Notifications interface {
	DispatchDailyHoroscopes(ctx context.Context) (int, error)
	ExpireSubscriptions(ctx context.Context, limit int) (int, error)
	SendExpiryReminders(ctx context.Context, limit int) (int, error)
}

// Reconciler is implemented by *service.PaymentService.
type Reconciler interface {
	Reconcile(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// JobsConfig tunes the built-in jobs.
type JobsConfig struct {
	BatchSize int
	// PendingAge is how long a card payment may stay pending before the
	// gateway is asked for its state.
	PendingAge time.Duration
	Now        func() time.Time
}

// Jobs returns the bot's periodic jobs.
func Jobs(n Notifications, r Reconciler, cfg JobsConfig) []Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PendingAge <= 0 {
		cfg.PendingAge = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return []Job{
		{
			Name:     JobDailyHoroscope,
			Interval: time.Minute,
			Timeout:  55 * time.Second,
			Run:      n.DispatchDailyHoroscopes,
		},
		{
			Name:     JobSubscriptions,
			Interval: 10 * time.Minute,
			Timeout:  5 * time.Minute,
			Run: func(ctx context.Context) (int, error) {
				expired, expErr := n.ExpireSubscriptions(ctx, cfg.BatchSize)
				reminded, remErr := n.SendExpiryReminders(ctx, cfg.BatchSize)
				return expired + reminded, errors.Join(expErr, remErr)
			},
		},
		{
			Name:     JobPaymentReconcile,
			Interval: 2 * time.Minute,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) (int, error) {
				return r.Reconcile(ctx, cfg.Now().Add(-cfg.PendingAge), cfg.BatchSize)
			},
		},
	}
}

// CacheLocker adapts the Redis lock of the cache package.
type CacheLocker struct {
	Cache *cache.Cache
}

// TryLock implements Locker.
func (l CacheLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.Cache.AcquireLock(ctx, name, ttl)
	if err != nil || lock == nil {
		return nil, err
	}
	return lock.Release, nil
}
