package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/handler/dto"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
)

// UserAdmin is the part of *service.UserService the admin API uses.
type UserAdmin interface {
	List(ctx context.Context, in service.ListUsersInput) (*service.ListUsersOutput, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Block(ctx context.Context, userID string) error
	Unblock(ctx context.Context, userID string) error
	DeleteData(ctx context.Context, userID string) error
}

// SubscriptionAdmin is the part of *service.SubscriptionService the admin
// API uses.
type SubscriptionAdmin interface {
	Get(ctx context.Context, userID string) (*model.Subscription, error)
	Grant(ctx context.Context, userID string, plan model.SubscriptionPlan, days int, reason string) (*model.Subscription, error)
	Cancel(ctx context.Context, userID string, immediate bool) (*model.Subscription, error)
}

// UserHandler serves /api/v1/users.
type UserHandler struct {
	users  UserAdmin
	subs   SubscriptionAdmin
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserAdmin, subs SubscriptionAdmin, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, subs: subs, logger: logger}
}

// List handles GET /api/v1/users?status=&q=&cursor=&limit=.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.UserStatus(q.Get("status"))
	switch status {
	case "", model.UserActive, model.UserBlocked, model.UserDeleted:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Unknown user status")
		return
	}

	out, err := h.users.List(r.Context(), service.ListUsersInput{
		Status: status,
		Search: q.Get("q"),
		Cursor: q.Get("cursor"),
		Limit:  parseLimit(r),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := dto.UserListResponse{
		Data:       make([]dto.UserResponse, 0, len(out.Users)),
		Pagination: &dto.Pagination{NextCursor: out.NextCursor, HasMore: out.HasMore},
	}
	for _, u := range out.Users {
		resp.Data = append(resp.Data, dto.ToUserResponse(u, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/users/{userID}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := h.users.Get(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	sub, err := h.subs.Get(ctx, u.ID)
	if err != nil {
		h.logger.Warn("subscription lookup failed", "user_id", u.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, dto.ToUserResponse(u, sub))
}

// Block handles POST /api/v1/users/{userID}/block.
func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "user_blocked", h.users.Block)
}

// Unblock handles POST /api/v1/users/{userID}/unblock.
func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "user_unblocked", h.users.Unblock)
}

// Delete handles DELETE /api/v1/users/{userID}. Personal data is
// anonymized and the subscription ends.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "user_data_deleted", h.users.DeleteData)
}

func (h *UserHandler) changeStatus(w http.ResponseWriter, r *http.Request, event string, fn func(context.Context, string) error) {
	ctx := r.Context()
	id := chi.URLParam(r, "userID")
	if err := fn(ctx, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info(event, "user_id", id, "by", auth.OwnerFromContext(ctx))
	w.WriteHeader(http.StatusNoContent)
}

// Subscription handles GET /api/v1/users/{userID}/subscription.
func (h *UserHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Grant handles POST /api/v1/users/{userID}/subscription/grant.
func (h *UserHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req dto.GrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "admin:" + auth.OwnerFromContext(ctx)
	}
	sub, err := h.subs.Grant(ctx, id, req.Plan, req.Days, reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("subscription_granted",
		"user_id", id,
		"plan", sub.Plan,
		"days", req.Days,
		"by", auth.OwnerFromContext(ctx),
	)
	writeJSON(w, http.StatusOK, sub)
}

// Cancel handles POST /api/v1/users/{userID}/subscription/cancel.
func (h *UserHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req dto.CancelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	id, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sub, err := h.subs.Cancel(r.Context(), id, req.Immediate)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// requireUser resolves the path user first; subscriptions are created
// lazily and must not be created for unknown ids.
func (h *UserHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, err := h.users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return "", false
	}
	return u.ID, true
}
