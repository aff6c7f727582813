// Package dto provides Data Transfer Objects for admin API requests and responses.
package dto

import (
	"time"

	"github.com/astrotarot/astrotarot/internal/model"
)

// ErrorResponse is the error envelope of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable machine code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// UserResponse is a user as seen by operators. Birth details are reduced
// to the zodiac sign.
type UserResponse struct {
	ID             string                     `json:"id"`
	TelegramID     int64                      `json:"telegram_id"`
	Username       string                     `json:"username,omitempty"`
	Name           string                     `json:"name"`
	Role           model.UserRole             `json:"role"`
	Status         model.UserStatus           `json:"status"`
	Tone           model.ToneOfVoice          `json:"tone"`
	ZodiacSign     string                     `json:"zodiac_sign,omitempty"`
	HasBirthData   bool                       `json:"has_birth_data"`
	Notifications  model.NotificationSettings `json:"notifications"`
	ReferralCode   string                     `json:"referral_code"`
	ReferralCount  int                        `json:"referral_count"`
	TotalReadings  int                        `json:"total_readings"`
	LastActivityAt *time.Time                 `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	Subscription   *model.Subscription        `json:"subscription,omitempty"`
}

// ToUserResponse converts a user; sub may be nil.
func ToUserResponse(u *model.User, sub *model.Subscription) UserResponse {
	return UserResponse{
		ID:             u.ID,
		TelegramID:     u.TelegramID,
		Username:       u.Username,
		Name:           u.DisplayName(),
		Role:           u.Role,
		Status:         u.Status,
		Tone:           u.Tone,
		ZodiacSign:     u.ZodiacSign,
		HasBirthData:   u.HasBirthData(),
		Notifications:  u.Notifications,
		ReferralCode:   u.ReferralCode,
		ReferralCount:  u.ReferralCount,
		TotalReadings:  u.TotalReadings,
		LastActivityAt: u.LastActivityAt,
		CreatedAt:      u.CreatedAt,
		Subscription:   sub,
	}
}

// UserListResponse is a page of users.
type UserListResponse struct {
	Data       []UserResponse `json:"data"`
	Pagination *Pagination    `json:"pagination"`
}

// GrantRequest extends or upgrades a subscription by hand.
type GrantRequest struct {
	Plan   model.SubscriptionPlan `json:"plan"`
	Days   int                    `json:"days"`
	Reason string                 `json:"reason,omitempty"`
}

// CancelRequest cancels auto renewal, or the whole period when Immediate.
type CancelRequest struct {
	Immediate bool `json:"immediate"`
}

// PaymentResponse adds the charged amount to a payment.
type PaymentResponse struct {
	*model.Payment
	FinalAmount int64 `json:"final_amount"`
}

// ToPaymentResponse converts a payment.
func ToPaymentResponse(p *model.Payment) PaymentResponse {
	return PaymentResponse{Payment: p, FinalAmount: p.FinalAmount()}
}

// PaymentListResponse is a page of payments.
type PaymentListResponse struct {
	Data       []PaymentResponse `json:"data"`
	Pagination *Pagination       `json:"pagination"`
}

// PromoListResponse lists promo codes.
type PromoListResponse struct {
	Data []*model.PromoCode `json:"data"`
}

// APIKeyListResponse lists admin keys of one owner.
type APIKeyListResponse struct {
	Data []model.APIKeyResponse `json:"data"`
}
