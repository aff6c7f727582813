package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/handler/dto"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/repository"
)

// KeyRepository stores admin API keys. *repository.Repository implements it.
type KeyRepository interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, owner string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// APIKeyHandler handles admin key management. Routes are admin scoped,
// so an operator may manage keys of any owner.
type APIKeyHandler struct {
	keys   KeyRepository
	env    string
	logger *slog.Logger
	now    func() time.Time
}

// NewAPIKeyHandler creates a new APIKeyHandler. env is embedded in new keys
// (auth.EnvLive or auth.EnvTest).
func NewAPIKeyHandler(keys KeyRepository, env string, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, env: env, logger: logger, now: time.Now}
}

// Create handles POST /api/v1/api-keys.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.APIKeyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{model.ScopeRead}
	}
	if !model.ValidateScopes(req.Scopes) {
		writeError(w, http.StatusBadRequest, "INVALID_SCOPE", "Valid scopes: read, write, admin")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = auth.OwnerFromContext(ctx)
	}

	key, plaintext, err := h.issue(ctx, owner, req.Name, req.Scopes, model.TierStandard)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("API key created",
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
		slog.String("owner", key.Owner),
		slog.String("by", auth.KeyIDFromContext(ctx)),
	)
	writeJSON(w, http.StatusCreated, createResponse(key, plaintext))
}

// List handles GET /api/v1/api-keys?owner=.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListAPIKeys(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := dto.APIKeyListResponse{Data: make([]model.APIKeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Data = append(resp.Data, k.ToResponse())
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles DELETE /api/v1/api-keys/{keyID}. Cached auth contexts
// expire with the cache TTL.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID := chi.URLParam(r, "keyID")
	if keyID == auth.KeyIDFromContext(ctx) {
		writeError(w, http.StatusConflict, "SELF_REVOKE", "A key cannot revoke itself")
		return
	}

	if err := h.keys.RevokeAPIKey(ctx, keyID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("API key revoked",
		slog.String("key_id", keyID),
		slog.String("by", auth.KeyIDFromContext(ctx)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Rotate handles POST /api/v1/api-keys/{keyID}/rotate: a new key with the
// same owner and scopes is issued, then the old one is revoked.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	old, err := h.keys.GetAPIKeyByID(ctx, chi.URLParam(r, "keyID"))
	if err == nil && old.IsRevoked() {
		err = repository.ErrAPIKeyNotFound
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	key, plaintext, err := h.issue(ctx, old.Owner, old.Name, old.Scopes, old.RateLimitTier)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.keys.RevokeAPIKey(ctx, old.ID); err != nil && !errors.Is(err, repository.ErrAPIKeyNotFound) {
		// the new key stands; the old one can be revoked again
		h.logger.Error("failed to revoke old API key during rotation", slog.String("key_id", old.ID), slog.String("error", err.Error()))
	}

	h.logger.Info("API key rotated",
		slog.String("old_key_id", old.ID),
		slog.String("new_key_id", key.ID),
		slog.String("owner", key.Owner),
	)
	writeJSON(w, http.StatusCreated, createResponse(key, plaintext))
}

func (h *APIKeyHandler) issue(ctx context.Context, owner, name string, scopes []string, tier string) (*model.APIKey, string, error) {
	gen, err := auth.GenerateAPIKey(h.env)
	if err != nil {
		return nil, "", err
	}
	key := &model.APIKey{
		ID:            ulid.Make().String(),
		Owner:         owner,
		KeyHash:       gen.Hash,
		KeyPrefix:     gen.Prefix,
		Scopes:        scopes,
		RateLimitTier: tier,
		Name:          name,
		CreatedAt:     h.now().UTC(),
	}
	if err := h.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, gen.Plaintext, nil
}

func createResponse(k *model.APIKey, plaintext string) model.APIKeyCreateResponse {
	return model.APIKeyCreateResponse{
		ID:            k.ID,
		Key:           plaintext,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
		CreatedAt:     k.CreatedAt,
	}
}
