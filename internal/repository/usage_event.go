package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/astrotarot/astrotarot/internal/model"
)

// InsertUsageEvents inserts events idempotently: a redelivered stream entry hits
// ON CONFLICT (event_id) and is skipped.
func (r *Repository) InsertUsageEvents(ctx context.Context, events []*model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO usage_events (
			id, event_id, user_id, telegram_id, kind, name, detail, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.UserID,
			event.TelegramID,
			event.Kind,
			event.Name,
			event.Detail,
			event.OccurredAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// CountUsageByKind returns event counts per kind since the given moment.
func (r *Repository) CountUsageByKind(ctx context.Context, since time.Time) ([]model.CountByKey, error) {
	return r.countByKey(ctx, `
		SELECT kind, COUNT(*) AS n FROM usage_events
		WHERE occurred_at >= $1
		GROUP BY kind ORDER BY n DESC, kind
	`, since)
}

// TopCommands returns the most used commands since the given moment.
func (r *Repository) TopCommands(ctx context.Context, since time.Time, limit int) ([]model.CountByKey, error) {
	return r.countByKey(ctx, `
		SELECT name, COUNT(*) AS n FROM usage_events
		WHERE kind = 'command' AND occurred_at >= $1
		GROUP BY name ORDER BY n DESC, name LIMIT $2
	`, since, limit)
}
