package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Common errors for payment repository operations.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentConflict means the payment left the expected status before
	// the update landed.
	ErrPaymentConflict = errors.New("payment status changed concurrently")
)

const paymentColumns = `
	id, user_id, subscription_id, plan, months, amount, discount_amount, currency, status,
	method, provider_payment_id, confirmation_url, promo_code, description, failure_reason,
	created_at, updated_at, paid_at, refunded_at, activated_at`

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	Status model.PaymentStatus
	UserID string
}

// UserPaymentStats summarizes a user's successful payments.
type UserPaymentStats struct {
	Count int64 `json:"count"`
	Total int64 `json:"total"` // kopecks, RUB only
}

// CreatePayment inserts a new payment.
func (r *Repository) CreatePayment(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, subscription_id, plan, months, amount, discount_amount, currency, status,
			method, provider_payment_id, confirmation_url, promo_code, description, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.UserID, p.SubscriptionID, p.Plan, p.Months, p.Amount, p.DiscountAmount, p.Currency, p.Status,
		p.Method, nullableString(p.ProviderPaymentID), p.ConfirmationURL, p.PromoCode, p.Description, p.FailureReason,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// GetPaymentByProviderID retrieves a payment by the gateway's id.
func (r *Repository) GetPaymentByProviderID(ctx context.Context, providerID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, providerID))
}

// UpdatePayment persists status and gateway fields, but only if the stored
// status still equals expected.
func (r *Repository) UpdatePayment(ctx context.Context, p *model.Payment, expected model.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $3, provider_payment_id = $4, confirmation_url = $5, failure_reason = $6,
		    paid_at = $7, refunded_at = $8, updated_at = $9
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		p.ID, expected, p.Status, nullableString(p.ProviderPaymentID), p.ConfirmationURL,
		p.FailureReason, p.PaidAt, p.RefundedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetPayment(ctx, p.ID); err != nil {
			return err
		}
		return ErrPaymentConflict
	}
	return nil
}

// ListPayments returns payments newest first with cursor pagination.
func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter, cursor string, limit int) ([]*model.Payment, string, error) {
	cur, limit, err := pageArgs(cursor, limit)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE TRUE`
	args := []any{}
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argN)
		args = append(args, filter.UserID)
		argN++
	}
	if cur != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, cur.CreatedAt, cur.ID)
		argN += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	payments, err := r.queryPayments(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(payments) > limit {
		payments = payments[:limit]
		last := payments[limit-1]
		next = encodeCursor(&PaginationCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return payments, next, nil
}

// ListPendingCardPayments returns card payments still pending at the gateway
// that were created before cutoff.
func (r *Repository) ListPendingCardPayments(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ('pending', 'processing') AND method = 'card'
		  AND provider_payment_id IS NOT NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	return r.queryPayments(ctx, query, cutoff, limit)
}

// MarkPaymentActivated records that the paid period was applied. It is a
// no-op for a payment already marked.
func (r *Repository) MarkPaymentActivated(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET activated_at = $2, updated_at = $2
		WHERE id = $1 AND activated_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark payment activated: %w", err)
	}
	return nil
}

// ListUnactivatedPayments returns succeeded payments paid before cutoff
// whose period was never applied.
func (r *Repository) ListUnactivatedPayments(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'succeeded' AND activated_at IS NULL AND paid_at < $1
		ORDER BY paid_at
		LIMIT $2`
	return r.queryPayments(ctx, query, cutoff, limit)
}

// RevenueBetween sums successful ruble payments paid within [from, to).
func (r *Repository) RevenueBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return r.count(ctx, `
		SELECT COALESCE(SUM(amount - discount_amount), 0)
		FROM payments
		WHERE status = 'succeeded' AND currency = 'RUB' AND paid_at >= $1 AND paid_at < $2
	`, from, to)
}

// RevenueTotal sums all successful ruble payments.
func (r *Repository) RevenueTotal(ctx context.Context) (int64, error) {
	return r.count(ctx, `
		SELECT COALESCE(SUM(amount - discount_amount), 0)
		FROM payments
		WHERE status = 'succeeded' AND currency = 'RUB'
	`)
}

// CountPayingUsers returns users with at least one successful payment.
func (r *Repository) CountPayingUsers(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(DISTINCT user_id) FROM payments WHERE status = 'succeeded'`)
}

// GetUserPaymentStats summarizes a user's successful payments.
func (r *Repository) GetUserPaymentStats(ctx context.Context, userID string) (*UserPaymentStats, error) {
	var s UserPaymentStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount - discount_amount) FILTER (WHERE currency = 'RUB'), 0)
		FROM payments
		WHERE user_id = $1 AND status = 'succeeded'
	`, userID).Scan(&s.Count, &s.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment stats: %w", err)
	}
	return &s, nil
}

func (r *Repository) queryPayments(ctx context.Context, query string, args ...any) ([]*model.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p          model.Payment
		providerID *string
	)

	err := row.Scan(
		&p.ID, &p.UserID, &p.SubscriptionID, &p.Plan, &p.Months, &p.Amount, &p.DiscountAmount, &p.Currency, &p.Status,
		&p.Method, &providerID, &p.ConfirmationURL, &p.PromoCode, &p.Description, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.RefundedAt, &p.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	if providerID != nil {
		p.ProviderPaymentID = *providerID
	}
	return &p, nil
}
