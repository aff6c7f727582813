package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/astrotarot/astrotarot/internal/model"
)

// ErrPartnerNotFound is returned when a saved partner does not exist.
var ErrPartnerNotFound = errors.New("partner not found")

const partnerColumns = `id, user_id, name, birth_date, birth_time, city, zodiac_sign, created_at`

// CreatePartner saves a person for compatibility analysis.
func (r *Repository) CreatePartner(ctx context.Context, p *model.Partner) error {
	query := `
		INSERT INTO partners (id, user_id, name, birth_date, birth_time, city, zodiac_sign, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.BirthDate, p.BirthTime, p.City, p.ZodiacSign, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

// GetPartner returns a partner owned by the user.
func (r *Repository) GetPartner(ctx context.Context, userID, id string) (*model.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1 AND user_id = $2`

	p, err := scanPartner(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	return p, nil
}

// ListPartners returns the user's partners in creation order.
func (r *Repository) ListPartners(ctx context.Context, userID string) ([]*model.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	defer rows.Close()

	var partners []*model.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		partners = append(partners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partners: %w", err)
	}
	return partners, nil
}

// CountPartners returns how many partners the user saved.
func (r *Repository) CountPartners(ctx context.Context, userID string) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM partners WHERE user_id = $1`, userID)
	return int(n), err
}

// DeletePartner removes a partner owned by the user.
func (r *Repository) DeletePartner(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM partners WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete partner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func scanPartner(row pgx.Row) (*model.Partner, error) {
	var p model.Partner
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.BirthDate, &p.BirthTime, &p.City, &p.ZodiacSign, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.BirthDate = p.BirthDate.UTC()
	return &p, nil
}
