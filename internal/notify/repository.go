package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver for database/sql

	"github.com/astrotarot/astrotarot/internal/model"
)

// maxErrorLength bounds last_error.
const maxErrorLength = 500

// OpenDB opens the notification queue connection.
func OpenDB(ctx context.Context, databaseURL string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open notification db: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping notification db: %w", err)
	}
	return db, nil
}

// Repository handles notification queue operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `
	id, user_id, telegram_id, kind, text, status, attempt_count, max_attempts,
	next_attempt_at, last_error, COALESCE(dedup_key, ''), created_at, sent_at`

// Enqueue stores a notification. It reports false when a notification with
// the same dedup key already exists.
func (r *Repository) Enqueue(ctx context.Context, n *model.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (
			id, user_id, telegram_id, kind, text, status, attempt_count, max_attempts,
			next_attempt_at, dedup_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	var dedup *string
	if n.DedupKey != "" {
		dedup = &n.DedupKey
	}

	result, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.TelegramID,
		string(n.Kind),
		n.Text,
		string(n.Status),
		n.AttemptCount,
		n.MaxAttempts,
		n.NextAttemptAt,
		dedup,
		n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Get retrieves a notification by ID.
func (r *Repository) Get(ctx context.Context, id string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ClaimDue leases up to limit due notifications. Claimed rows have their
// next attempt pushed out by lease so a concurrent worker skips them.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.Notification, error) {
	query := `
		UPDATE notifications
		SET next_attempt_at = $3, updated_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status IN ('pending', 'failed') AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := r.db.QueryContext(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSent records a successful send.
func (r *Repository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent',
			attempt_count = attempt_count + 1,
			last_error = '',
			sent_at = $2,
			updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the next one.
func (r *Repository) MarkFailed(ctx context.Context, id, errMsg string, nextAttemptAt time.Time, exhausted bool, at time.Time) error {
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}

	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	query := `
		UPDATE notifications
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_error = $3,
			next_attempt_at = $4,
			updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), errMsg, nextAttemptAt, at)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DropPendingForChat exhausts everything still queued for a chat that can no
// longer receive messages.
func (r *Repository) DropPendingForChat(ctx context.Context, telegramID int64, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET status = 'exhausted', last_error = $2, updated_at = $3
		WHERE telegram_id = $1 AND status IN ('pending', 'failed')
	`

	result, err := r.db.ExecContext(ctx, query, telegramID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("drop pending notifications: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// QueueDepth returns the count of pending and failed notifications.
func (r *Repository) QueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE status IN ('pending', 'failed')
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

// CountByStatus returns notification counts per status created since the
// given moment.
func (r *Repository) CountByStatus(ctx context.Context, since time.Time) (map[model.DeliveryStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM notifications
		WHERE created_at >= $1
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.DeliveryStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan notification count: %w", err)
		}
		counts[model.DeliveryStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var (
		n            model.Notification
		kind, status string
		sentAt       sql.NullTime
	)

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.TelegramID,
		&kind,
		&n.Text,
		&status,
		&n.AttemptCount,
		&n.MaxAttempts,
		&n.NextAttemptAt,
		&n.LastError,
		&n.DedupKey,
		&n.CreatedAt,
		&sentAt,
	)
	if err != nil {
		return nil, err
	}

	n.Kind = model.NotificationKind(kind)
	n.Status = model.DeliveryStatus(status)
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return &n, nil
}
