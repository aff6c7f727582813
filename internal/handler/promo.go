package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/handler/dto"
	"github.com/astrotarot/astrotarot/internal/model"
)

// PromoAdmin manages promo codes. *service.SubscriptionService implements it.
type PromoAdmin interface {
	CreatePromo(ctx context.Context, req model.PromoCreateRequest) (*model.PromoCode, error)
	ListPromos(ctx context.Context, activeOnly bool) ([]*model.PromoCode, error)
	DeactivatePromo(ctx context.Context, code string) error
}

// PromoHandler serves /api/v1/promos.
type PromoHandler struct {
	promos PromoAdmin
	logger *slog.Logger
}

// NewPromoHandler creates a new PromoHandler.
func NewPromoHandler(promos PromoAdmin, logger *slog.Logger) *PromoHandler {
	return &PromoHandler{promos: promos, logger: logger}
}

// List handles GET /api/v1/promos?active=true.
func (h *PromoHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	promos, err := h.promos.ListPromos(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if promos == nil {
		promos = []*model.PromoCode{}
	}
	writeJSON(w, http.StatusOK, dto.PromoListResponse{Data: promos})
}

// Create handles POST /api/v1/promos.
func (h *PromoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.PromoCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	promo, err := h.promos.CreatePromo(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("promo_created",
		"code", promo.Code,
		"type", promo.Type,
		"value", promo.Value,
		"by", auth.OwnerFromContext(r.Context()),
	)
	writeJSON(w, http.StatusCreated, promo)
}

// Deactivate handles DELETE /api/v1/promos/{code}.
func (h *PromoHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.promos.DeactivatePromo(r.Context(), code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("promo_deactivated", "code", code, "by", auth.OwnerFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
