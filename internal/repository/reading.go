package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Common errors for tarot reading operations.
var (
	ErrReadingNotFound = errors.New("reading not found")
	ErrDailyCardExists = errors.New("daily card already drawn")
)

const readingColumns = `
	id, user_id, spread_code, question, cards, interpretation, model,
	reading_date, rating, favorite, created_at`

// ReadingFilter narrows a user's history.
type ReadingFilter struct {
	FavoritesOnly bool
	SpreadCode    string
}

// CreateReading stores a reading. A second daily card for the same day
// returns ErrDailyCardExists.
func (r *Repository) CreateReading(ctx context.Context, rd *model.Reading) error {
	cards, err := json.Marshal(rd.Cards)
	if err != nil {
		return fmt.Errorf("marshal cards: %w", err)
	}

	ids := make([]int64, len(rd.Cards))
	for i, c := range rd.Cards {
		ids[i] = int64(c.CardID)
	}

	query := `
		INSERT INTO tarot_readings (
			id, user_id, spread_code, question, cards, card_ids, interpretation, model,
			reading_date, rating, favorite, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		rd.ID, rd.UserID, rd.SpreadCode, rd.Question, cards, pq.Array(ids), rd.Interpretation, rd.Model,
		rd.ReadingDate, rd.Rating, rd.Favorite, rd.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDailyCardExists
		}
		return fmt.Errorf("failed to create reading: %w", err)
	}
	return nil
}

// GetReading returns a reading owned by the user.
func (r *Repository) GetReading(ctx context.Context, userID, id string) (*model.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM tarot_readings WHERE id = $1 AND user_id = $2`
	return scanReading(r.pool.QueryRow(ctx, query, id, userID))
}

// GetDailyCard returns the daily card the user drew on day.
func (r *Repository) GetDailyCard(ctx context.Context, userID string, day time.Time) (*model.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM tarot_readings
		WHERE user_id = $1 AND reading_date = $2 AND spread_code = 'daily_card'`
	return scanReading(r.pool.QueryRow(ctx, query, userID, day))
}

// CountSpreadsOnDate counts spreads other than the daily card made on day.
func (r *Repository) CountSpreadsOnDate(ctx context.Context, userID string, day time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM tarot_readings
		WHERE user_id = $1 AND reading_date = $2 AND spread_code <> 'daily_card'
	`, userID, day)
}

// ListReadings returns the user's readings newest first.
func (r *Repository) ListReadings(ctx context.Context, userID string, filter ReadingFilter, cursor string, limit int) ([]*model.Reading, string, error) {
	cur, limit, err := pageArgs(cursor, limit)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + readingColumns + ` FROM tarot_readings WHERE user_id = $1`
	args := []any{userID}
	argN := 2

	if filter.FavoritesOnly {
		query += " AND favorite"
	}
	if filter.SpreadCode != "" {
		query += fmt.Sprintf(" AND spread_code = $%d", argN)
		args = append(args, filter.SpreadCode)
		argN++
	}
	if cur != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, cur.CreatedAt, cur.ID)
		argN += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*model.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, "", err
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating readings: %w", err)
	}

	var next string
	if len(readings) > limit {
		readings = readings[:limit]
		last := readings[limit-1]
		next = encodeCursor(&PaginationCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return readings, next, nil
}

// RateReading stores a 1-5 rating.
func (r *Repository) RateReading(ctx context.Context, userID, id string, rating int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tarot_readings SET rating = $3 WHERE id = $1 AND user_id = $2`, id, userID, rating)
	if err != nil {
		return fmt.Errorf("failed to rate reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReadingNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (r *Repository) ToggleFavorite(ctx context.Context, userID, id string) (bool, error) {
	var fav bool
	err := r.pool.QueryRow(ctx, `
		UPDATE tarot_readings SET favorite = NOT favorite
		WHERE id = $1 AND user_id = $2
		RETURNING favorite
	`, id, userID).Scan(&fav)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrReadingNotFound
		}
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	return fav, nil
}

// UserCardCounts returns the number of readings of the user and how often
// each card id appeared in them.
func (r *Repository) UserCardCounts(ctx context.Context, userID string) (int64, map[int]int, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM tarot_readings WHERE user_id = $1`, userID)
	if err != nil {
		return 0, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT card_id, COUNT(*)
		FROM tarot_readings, unnest(card_ids) AS card_id
		WHERE user_id = $1
		GROUP BY card_id
	`, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count cards: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var id, n int
		if err := rows.Scan(&id, &n); err != nil {
			return 0, nil, fmt.Errorf("failed to scan card count: %w", err)
		}
		counts[id] = n
	}
	return total, counts, rows.Err()
}

// CountReadings returns the total number of readings.
func (r *Repository) CountReadings(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM tarot_readings`)
}

// PopularSpreads returns the most used spreads.
func (r *Repository) PopularSpreads(ctx context.Context, limit int) ([]model.CountByKey, error) {
	return r.countByKey(ctx, `
		SELECT spread_code, COUNT(*) AS n FROM tarot_readings
		GROUP BY spread_code ORDER BY n DESC, spread_code LIMIT $1
	`, limit)
}

// PopularCards returns the most frequently drawn card ids.
func (r *Repository) PopularCards(ctx context.Context, limit int) ([]model.CountByKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT card_id, COUNT(*) AS n
		FROM tarot_readings, unnest(card_ids) AS card_id
		GROUP BY card_id ORDER BY n DESC, card_id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular cards: %w", err)
	}
	defer rows.Close()

	var out []model.CountByKey
	for rows.Next() {
		var id int
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan popular card: %w", err)
		}
		out = append(out, model.CountByKey{Key: strconv.Itoa(id), Count: n})
	}
	return out, rows.Err()
}

// RecordHoroscopeView logs a horoscope view. userID may be empty.
func (r *Repository) RecordHoroscopeView(ctx context.Context, userID, sign string, period model.HoroscopePeriod, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO horoscope_views (user_id, sign, period, viewed_at) VALUES ($1, $2, $3, $4)
	`, nullableString(userID), sign, period, at)
	if err != nil {
		return fmt.Errorf("failed to record horoscope view: %w", err)
	}
	return nil
}

// CountHoroscopeViews returns the total number of horoscope views.
func (r *Repository) CountHoroscopeViews(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM horoscope_views`)
}

// PopularSigns returns the most viewed zodiac signs.
func (r *Repository) PopularSigns(ctx context.Context, limit int) ([]model.CountByKey, error) {
	return r.countByKey(ctx, `
		SELECT sign, COUNT(*) AS n FROM horoscope_views
		GROUP BY sign ORDER BY n DESC, sign LIMIT $1
	`, limit)
}

func (r *Repository) countByKey(ctx context.Context, query string, args ...any) ([]model.CountByKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	var out []model.CountByKey
	for rows.Next() {
		var c model.CountByKey
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanReading(row pgx.Row) (*model.Reading, error) {
	var (
		rd     model.Reading
		cards  []byte
		rating *int16
	)

	err := row.Scan(
		&rd.ID, &rd.UserID, &rd.SpreadCode, &rd.Question, &cards, &rd.Interpretation, &rd.Model,
		&rd.ReadingDate, &rating, &rd.Favorite, &rd.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("failed to scan reading: %w", err)
	}

	if err := json.Unmarshal(cards, &rd.Cards); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	if rating != nil {
		v := int(*rating)
		rd.Rating = &v
	}
	rd.ReadingDate = rd.ReadingDate.UTC()
	return &rd, nil
}
