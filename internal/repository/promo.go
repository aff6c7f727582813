package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Common errors for promo code operations.
var (
	ErrPromoNotFound        = errors.New("promo code not found")
	ErrPromoExists          = errors.New("promo code already exists")
	ErrPromoExhausted       = errors.New("promo code has no uses left")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed by user")
)

const promoColumns = `
	code, type, value, valid_from, valid_until, max_uses, used_count, min_amount,
	allowed_plans, is_active, first_time_only, created_at`

// CreatePromo inserts a promo code.
func (r *Repository) CreatePromo(ctx context.Context, p *model.PromoCode) error {
	query := `
		INSERT INTO promo_codes (
			code, type, value, valid_from, valid_until, max_uses, used_count, min_amount,
			allowed_plans, is_active, first_time_only, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	plans := make([]string, len(p.AllowedPlans))
	for i, plan := range p.AllowedPlans {
		plans[i] = string(plan)
	}

	_, err := r.pool.Exec(ctx, query,
		p.Code, p.Type, p.Value, p.ValidFrom, p.ValidUntil, p.MaxUses, p.UsedCount, p.MinAmount,
		pq.Array(plans), p.IsActive, p.FirstTimeOnly, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPromoExists
		}
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}

// GetPromo retrieves a promo code.
func (r *Repository) GetPromo(ctx context.Context, code string) (*model.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`
	return scanPromo(r.pool.QueryRow(ctx, query, code))
}

// ListPromos returns promo codes, newest first.
func (r *Repository) ListPromos(ctx context.Context, activeOnly bool) ([]*model.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE ($1 = FALSE OR is_active) ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}
	defer rows.Close()

	var promos []*model.PromoCode
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promo codes: %w", err)
	}
	return promos, nil
}

// DeactivatePromo switches a code off.
func (r *Repository) DeactivatePromo(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE promo_codes SET is_active = FALSE WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate promo code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromoNotFound
	}
	return nil
}

// RedeemPromo consumes one use of the code for the user. The use count is
// checked and incremented atomically.
func (r *Repository) RedeemPromo(ctx context.Context, code, userID, paymentID string, now time.Time) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE promo_codes
			SET used_count = used_count + 1
			WHERE code = $1 AND is_active AND (max_uses IS NULL OR used_count < max_uses)
		`, code)
		if err != nil {
			return fmt.Errorf("failed to redeem promo code: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrPromoExhausted
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO promo_redemptions (code, user_id, payment_id, redeemed_at)
			VALUES ($1, $2, $3, $4)
		`, code, userID, nullableString(paymentID), now)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrPromoAlreadyRedeemed
			}
			return fmt.Errorf("failed to record redemption: %w", err)
		}
		return nil
	})
}

// HasRedeemed reports whether the user already used the code.
func (r *Repository) HasRedeemed(ctx context.Context, code, userID string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM promo_redemptions WHERE code = $1 AND user_id = $2`, code, userID)
	return n > 0, err
}

// HasSuccessfulPayments reports whether the user ever paid.
func (r *Repository) HasSuccessfulPayments(ctx context.Context, userID string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM payments WHERE user_id = $1 AND status = 'succeeded'`, userID)
	return n > 0, err
}

func scanPromo(row pgx.Row) (*model.PromoCode, error) {
	var (
		p     model.PromoCode
		plans []string
	)

	err := row.Scan(
		&p.Code, &p.Type, &p.Value, &p.ValidFrom, &p.ValidUntil, &p.MaxUses, &p.UsedCount, &p.MinAmount,
		pq.Array(&plans), &p.IsActive, &p.FirstTimeOnly, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromoNotFound
		}
		return nil, fmt.Errorf("failed to scan promo code: %w", err)
	}

	for _, plan := range plans {
		p.AllowedPlans = append(p.AllowedPlans, model.SubscriptionPlan(plan))
	}
	return &p, nil
}
