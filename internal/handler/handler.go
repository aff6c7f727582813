// Package handler provides the admin REST API, health probes and payment
// webhooks.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/astrotarot/astrotarot/internal/handler/dto"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/repository"
	"github.com/astrotarot/astrotarot/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NotFound handles 404 responses.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: dto.ErrorBody{Code: code, Message: message}})
}

// decodeJSON reads a single JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

// parseLimit reads ?limit=, falling back to the default when absent or
// out of range.
func parseLimit(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxPageSize {
			return n
		}
	}
	return defaultPageSize
}

// writeServiceError maps service errors to stable API error codes.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "Payment not found")
	case errors.Is(err, service.ErrPromoNotFound):
		writeError(w, http.StatusNotFound, "PROMO_NOT_FOUND", "Promo code not found")
	case errors.Is(err, repository.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
	case errors.Is(err, service.ErrPromoExists):
		writeError(w, http.StatusConflict, "PROMO_EXISTS", "Promo code already exists")
	case errors.Is(err, service.ErrPaymentNotRefundable):
		writeError(w, http.StatusConflict, "NOT_REFUNDABLE", "Payment cannot be refunded")
	case errors.Is(err, service.ErrSubscriptionNotActive):
		writeError(w, http.StatusConflict, "SUBSCRIPTION_NOT_ACTIVE", "Subscription is not active")
	case errors.Is(err, service.ErrPaymentMismatch):
		writeError(w, http.StatusConflict, "PAYMENT_MISMATCH", "Payment does not match gateway state")
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "INVALID_PLAN", "Invalid subscription plan")
	case errors.Is(err, service.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "Invalid subscription period")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, repository.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "Invalid pagination cursor")
	case errors.Is(err, payment.ErrInvalidNotification):
		writeError(w, http.StatusBadRequest, "INVALID_NOTIFICATION", "Invalid payment notification")
	case errors.Is(err, service.ErrMethodUnavailable), errors.Is(err, payment.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "METHOD_UNAVAILABLE", "Payment method is not configured")
	default:
		logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
