package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/handler/dto"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/service"
)

// maxNotificationSize bounds a gateway notification body.
const maxNotificationSize = 64 << 10

// PaymentAdmin is the part of *service.PaymentService the HTTP layer uses.
type PaymentAdmin interface {
	List(ctx context.Context, in service.ListPaymentsInput) (*service.ListPaymentsOutput, error)
	Get(ctx context.Context, id string) (*model.Payment, error)
	Refund(ctx context.Context, paymentID string) (*model.Payment, error)
	HandleNotification(ctx context.Context, body []byte) error
}

// PaymentHandler serves /api/v1/payments and the gateway webhook.
type PaymentHandler struct {
	payments PaymentAdmin
	logger   *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments PaymentAdmin, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// List handles GET /api/v1/payments?status=&user_id=&cursor=&limit=.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.payments.List(r.Context(), service.ListPaymentsInput{
		Status: model.PaymentStatus(q.Get("status")),
		UserID: q.Get("user_id"),
		Cursor: q.Get("cursor"),
		Limit:  parseLimit(r),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := dto.PaymentListResponse{
		Data:       make([]dto.PaymentResponse, 0, len(out.Payments)),
		Pagination: &dto.Pagination{NextCursor: out.NextCursor, HasMore: out.HasMore},
	}
	for _, p := range out.Payments {
		resp.Data = append(resp.Data, dto.ToPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/payments/{paymentID}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToPaymentResponse(p))
}

// Refund handles POST /api/v1/payments/{paymentID}/refund. The paid
// subscription is cancelled immediately.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.payments.Refund(ctx, chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("payment_refunded",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"amount", p.FinalAmount(),
		"by", auth.OwnerFromContext(ctx),
	)
	writeJSON(w, http.StatusOK, dto.ToPaymentResponse(p))
}

// YooKassaWebhook handles POST /webhooks/yookassa. The gateway retries
// anything but 200, so only transient failures answer 5xx.
func (h *PaymentHandler) YooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Unreadable body")
		return
	}

	err = h.payments.HandleNotification(r.Context(), body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, payment.ErrInvalidNotification):
		h.logger.Warn("rejected payment notification", "error", err)
		writeError(w, http.StatusBadRequest, "INVALID_NOTIFICATION", "Invalid payment notification")
	case errors.Is(err, service.ErrPaymentNotFound), errors.Is(err, service.ErrPaymentMismatch):
		// acknowledged; retries would not change the outcome
		h.logger.Warn("unmatched payment notification", "error", err)
		w.WriteHeader(http.StatusOK)
	default:
		writeServiceError(w, h.logger, err)
	}
}
