package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrReferralCodeExists = errors.New("referral code already exists")
)

const userColumns = `
	id, telegram_id, username, first_name, last_name, language_code, role, status, tone,
	birth_name, birth_date, birth_time, birth_city, birth_latitude, birth_longitude, birth_timezone,
	zodiac_sign, notifications_enabled, daily_horoscope, horoscope_time, save_history,
	referral_code, referred_by, referral_count, total_readings, last_activity_at,
	created_at, updated_at, deleted_at`

// UserFilter narrows admin user listings.
type UserFilter struct {
	Status model.UserStatus
	// Search matches username or names, case-insensitive.
	Search string
}

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			id, telegram_id, username, first_name, last_name, language_code, role, status, tone,
			notifications_enabled, daily_horoscope, horoscope_time, save_history,
			referral_code, referred_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.TelegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.LanguageCode,
		user.Role,
		user.Status,
		user.Tone,
		user.Notifications.Enabled,
		user.Notifications.DailyHoroscope,
		user.Notifications.HoroscopeTime,
		user.Notifications.SaveHistory,
		user.ReferralCode,
		user.ReferredBy,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == "users_referral_code_key" {
				return ErrReferralCodeExists
			}
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByTelegramID retrieves a user by Telegram user id.
func (r *Repository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, telegramID))
}

// GetUserByReferralCode retrieves the owner of a referral code.
func (r *Repository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1 AND status = 'active'`
	return scanUser(r.pool.QueryRow(ctx, query, code))
}

// UpdateUserProfile refreshes the Telegram profile fields.
func (r *Repository) UpdateUserProfile(ctx context.Context, id string, p model.TelegramProfile) error {
	query := `
		UPDATE users
		SET username = $2, first_name = $3, last_name = $4, language_code = $5, updated_at = NOW()
		WHERE id = $1
	`
	return r.execUser(ctx, "update profile", query, id, p.Username, p.FirstName, p.LastName, p.LanguageCode)
}

// UpdateBirthData stores birth data and the derived zodiac sign.
func (r *Repository) UpdateBirthData(ctx context.Context, id, name string, birth *model.BirthData, sign string) error {
	query := `
		UPDATE users
		SET birth_name = $2, birth_date = $3, birth_time = $4, birth_city = $5,
		    birth_latitude = $6, birth_longitude = $7, birth_timezone = $8,
		    zodiac_sign = $9, updated_at = NOW()
		WHERE id = $1
	`
	return r.execUser(ctx, "update birth data", query, id,
		name, birth.Date, birth.Time, birth.City,
		birth.Latitude, birth.Longitude, birth.Timezone, sign,
	)
}

// UpdateUserSettings stores tone and notification preferences.
func (r *Repository) UpdateUserSettings(ctx context.Context, id string, tone model.ToneOfVoice, n model.NotificationSettings) error {
	query := `
		UPDATE users
		SET tone = $2, notifications_enabled = $3, daily_horoscope = $4,
		    horoscope_time = $5, save_history = $6, updated_at = NOW()
		WHERE id = $1
	`
	return r.execUser(ctx, "update settings", query, id,
		tone, n.Enabled, n.DailyHoroscope, n.HoroscopeTime, n.SaveHistory,
	)
}

// TouchUser records user activity.
func (r *Repository) TouchUser(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_activity_at = $2 WHERE id = $1`
	return r.execUser(ctx, "touch user", query, id, at)
}

// IncrementReadings bumps the total readings counter.
func (r *Repository) IncrementReadings(ctx context.Context, id string) error {
	query := `UPDATE users SET total_readings = total_readings + 1 WHERE id = $1`
	return r.execUser(ctx, "increment readings", query, id)
}

// IncrementReferralCount bumps the number of users the referrer brought in.
func (r *Repository) IncrementReferralCount(ctx context.Context, id string) error {
	query := `UPDATE users SET referral_count = referral_count + 1 WHERE id = $1`
	return r.execUser(ctx, "increment referrals", query, id)
}

// SetUserStatus blocks, unblocks or deletes a user.
func (r *Repository) SetUserStatus(ctx context.Context, id string, status model.UserStatus) error {
	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	return r.execUser(ctx, "set status", query, id, status)
}

// SetUserRole grants or revokes admin access.
func (r *Repository) SetUserRole(ctx context.Context, id string, role model.UserRole) error {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`
	return r.execUser(ctx, "set role", query, id, role)
}

// DisableNotifications turns off unprompted messages, used when the user
// blocked the bot.
func (r *Repository) DisableNotifications(ctx context.Context, telegramID int64) error {
	query := `UPDATE users SET notifications_enabled = FALSE, updated_at = NOW() WHERE telegram_id = $1`
	if _, err := r.pool.Exec(ctx, query, telegramID); err != nil {
		return fmt.Errorf("failed to disable notifications: %w", err)
	}
	return nil
}

// AnonymizeUser erases personal data and partners, keeping the row for
// payment history.
func (r *Repository) AnonymizeUser(ctx context.Context, id string, now time.Time) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE users
			SET username = '', first_name = '', last_name = '', birth_name = '',
			    birth_date = NULL, birth_time = NULL, birth_city = '',
			    birth_latitude = NULL, birth_longitude = NULL, birth_timezone = '',
			    zodiac_sign = '', notifications_enabled = FALSE, daily_horoscope = FALSE,
			    status = 'deleted', deleted_at = $2, updated_at = $2
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, query, id, now)
		if err != nil {
			return fmt.Errorf("failed to anonymize user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM partners WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete partners: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tarot_readings WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}
		return nil
	})
}

// ListUsers returns users newest first with cursor pagination.
func (r *Repository) ListUsers(ctx context.Context, filter UserFilter, cursor string, limit int) ([]*model.User, string, error) {
	cur, limit, err := pageArgs(cursor, limit)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE TRUE`
	args := []any{}
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (username ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", argN, argN, argN)
		args = append(args, "%"+filter.Search+"%")
		argN++
	}
	if cur != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, cur.CreatedAt, cur.ID)
		argN += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	users, err := r.queryUsers(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(users) > limit {
		users = users[:limit]
		last := users[limit-1]
		next = encodeCursor(&PaginationCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return users, next, nil
}

// ListDailyHoroscopeRecipients returns active users subscribed to the daily
// horoscope at hhmm, ordered by id after afterID.
func (r *Repository) ListDailyHoroscopeRecipients(ctx context.Context, hhmm, afterID string, limit int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE status = 'active' AND notifications_enabled AND daily_horoscope
		  AND zodiac_sign <> '' AND horoscope_time = $1 AND id > $2
		ORDER BY id
		LIMIT $3`
	return r.queryUsers(ctx, query, hhmm, afterID, limit)
}

// ListBroadcastRecipients returns active users with notifications on,
// optionally only those whose subscription is an active plan.
func (r *Repository) ListBroadcastRecipients(ctx context.Context, plan model.SubscriptionPlan, afterID string, limit int) ([]*model.User, error) {
	query := `SELECT ` + prefixed("u", userColumns) + `
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id
		WHERE u.status = 'active' AND u.notifications_enabled AND u.id > $1
		  AND ($2 = '' OR (s.plan = $2 AND s.status = 'active'))
		ORDER BY u.id
		LIMIT $3`
	return r.queryUsers(ctx, query, afterID, string(plan), limit)
}

// CountUsers returns the number of non-deleted users.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE status <> 'deleted'`)
}

// CountActiveUsers returns users active since the given moment.
func (r *Repository) CountActiveUsers(ctx context.Context, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE last_activity_at >= $1`, since)
}

// CountUsersCreatedBetween returns registrations within [from, to).
func (r *Repository) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1 AND created_at < $2`, from, to)
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func (r *Repository) execUser(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// scanUser scans a single row into a User model.
func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u         model.User
		birthDate *time.Time
		birth     model.BirthData
	)

	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode,
		&u.Role, &u.Status, &u.Tone,
		&u.BirthName, &birthDate, &birth.Time, &birth.City, &birth.Latitude, &birth.Longitude, &birth.Timezone,
		&u.ZodiacSign, &u.Notifications.Enabled, &u.Notifications.DailyHoroscope,
		&u.Notifications.HoroscopeTime, &u.Notifications.SaveHistory,
		&u.ReferralCode, &u.ReferredBy, &u.ReferralCount, &u.TotalReadings, &u.LastActivityAt,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if birthDate != nil {
		birth.Date = birthDate.UTC()
		u.Birth = &birth
	}
	return &u, nil
}
