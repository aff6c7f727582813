package events

import (
	"fmt"
	"unicode/utf8"

	"github.com/astrotarot/astrotarot/internal/model"
)

const (
	maxNameLength   = 64
	maxDetailLength = 500
)

var knownKinds = map[string]bool{
	string(model.UsageCommand):   true,
	string(model.UsageCallback):  true,
	string(model.UsageReading):   true,
	string(model.UsageHoroscope): true,
	string(model.UsageNatal):     true,
	string(model.UsageCompat):    true,
	string(model.UsagePayment):   true,
	string(model.UsageRegister):  true,
}

// ValidateUsagePayload validates usage event payload fields.
func ValidateUsagePayload(payload UsagePayload) error {
	if payload.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if !knownKinds[payload.Kind] {
		return fmt.Errorf("unknown kind %q", payload.Kind)
	}
	if payload.UserID == "" && payload.TelegramID == 0 {
		return fmt.Errorf("user_id or telegram_id is required")
	}
	if payload.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	if utf8.RuneCountInString(payload.Name) > maxNameLength {
		return fmt.Errorf("name too long")
	}
	if utf8.RuneCountInString(payload.Detail) > maxDetailLength {
		return fmt.Errorf("detail too long")
	}
	return nil
}
