package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
)

// statsTimeout bounds the aggregate queries behind the stats endpoints.
const statsTimeout = 10 * time.Second

// StatsSource is implemented by *service.StatsService.
type StatsSource interface {
	System(ctx context.Context) (*model.SystemStats, error)
	Popular(ctx context.Context, limit int) (*model.PopularContent, error)
	Usage(ctx context.Context, days int) (*service.UsageSummary, error)
	LLM() []llm.ProviderStats
}

// Broadcaster is implemented by *service.NotificationService.
type Broadcaster interface {
	Broadcast(ctx context.Context, req model.BroadcastRequest) (*model.BroadcastResponse, error)
}

// AdminHandler provides operator endpoints: statistics and broadcasts.
type AdminHandler struct {
	stats       StatsSource
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(stats StatsSource, broadcaster Broadcaster, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, broadcaster: broadcaster, logger: logger}
}

// Stats handles GET /api/v1/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	st, err := h.stats.System(ctx)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Popular handles GET /api/v1/stats/popular?limit=.
func (h *AdminHandler) Popular(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	p, err := h.stats.Popular(ctx, parseLimit(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Usage handles GET /api/v1/stats/usage?days=.
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	u, err := h.stats.Usage(ctx, days)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// LLM handles GET /api/v1/stats/llm.
func (h *AdminHandler) LLM(w http.ResponseWriter, r *http.Request) {
	providers := h.stats.LLM()
	if providers == nil {
		providers = []llm.ProviderStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// Broadcast handles POST /api/v1/broadcasts.
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req model.BroadcastRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.broadcaster.Broadcast(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("broadcast_requested",
		"plan", req.Plan,
		"queued", resp.Queued,
		"by", auth.OwnerFromContext(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, resp)
}
