package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/astrotarot/astrotarot/internal/model"
)

// ErrSubscriptionNotFound is returned when a user has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `
	id, user_id, plan, status, auto_renewal, started_at, expires_at,
	cancelled_at, reminder_sent_at, created_at, updated_at`

// GetSubscriptionByUser returns the user's subscription.
func (r *Repository) GetSubscriptionByUser(ctx context.Context, userID string) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	s, err := scanSubscription(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// SaveSubscription upserts the subscription and appends its pending status
// changes to the event log in one transaction.
func (r *Repository) SaveSubscription(ctx context.Context, s *model.Subscription) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO subscriptions (
				id, user_id, plan, status, auto_renewal, started_at, expires_at,
				cancelled_at, reminder_sent_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id) DO UPDATE SET
				plan = EXCLUDED.plan,
				status = EXCLUDED.status,
				auto_renewal = EXCLUDED.auto_renewal,
				started_at = EXCLUDED.started_at,
				expires_at = EXCLUDED.expires_at,
				cancelled_at = EXCLUDED.cancelled_at,
				reminder_sent_at = EXCLUDED.reminder_sent_at,
				updated_at = EXCLUDED.updated_at
			RETURNING id
		`

		err := tx.QueryRow(ctx, query,
			s.ID, s.UserID, s.Plan, s.Status, s.AutoRenewal, s.StartedAt, s.ExpiresAt,
			s.CancelledAt, s.ReminderSentAt, s.CreatedAt, s.UpdatedAt,
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}

		for _, ch := range s.Changes {
			_, err := tx.Exec(ctx, `
				INSERT INTO subscription_events (subscription_id, from_status, to_status, reason, changed_at)
				VALUES ($1, $2, $3, $4, $5)
			`, s.ID, ch.From, ch.To, ch.Reason, ch.ChangedAt)
			if err != nil {
				return fmt.Errorf("failed to record status change: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Changes = nil
	return nil
}

// ListSubscriptionEvents returns the status history, oldest first.
func (r *Repository) ListSubscriptionEvents(ctx context.Context, subscriptionID string) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT from_status, to_status, reason, changed_at
		FROM subscription_events
		WHERE subscription_id = $1
		ORDER BY changed_at, id
	`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}
	defer rows.Close()

	var events []model.StatusChange
	for rows.Next() {
		var ch model.StatusChange
		if err := rows.Scan(&ch.From, &ch.To, &ch.Reason, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription event: %w", err)
		}
		events = append(events, ch)
	}
	return events, rows.Err()
}

// ListExpiredActive returns active subscriptions whose period ended before now.
func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.querySubscriptions(ctx, query, now, limit)
}

// ListExpiringUnreminded returns active subscriptions ending within the window
// that have not been reminded yet.
func (r *Repository) ListExpiringUnreminded(ctx context.Context, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND reminder_sent_at IS NULL
		  AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3`
	return r.querySubscriptions(ctx, query, now, now.Add(within), limit)
}

// MarkReminderSent records that the expiry reminder went out.
func (r *Repository) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE subscriptions SET reminder_sent_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CountActiveByPlan returns the number of currently active paid
// subscriptions per plan.
func (r *Repository) CountActiveByPlan(ctx context.Context, now time.Time) (map[model.SubscriptionPlan]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT plan, COUNT(*)
		FROM subscriptions
		WHERE status = 'active' AND (expires_at IS NULL OR expires_at > $1)
		GROUP BY plan
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionPlan]int64)
	for rows.Next() {
		var plan model.SubscriptionPlan
		var n int64
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[plan] = n
	}
	return counts, rows.Err()
}

func (r *Repository) querySubscriptions(ctx context.Context, query string, args ...any) ([]*model.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.Plan, &s.Status, &s.AutoRenewal, &s.StartedAt, &s.ExpiresAt,
		&s.CancelledAt, &s.ReminderSentAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
