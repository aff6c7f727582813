package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/middleware"
	"github.com/astrotarot/astrotarot/internal/model"
)

type routerKeys struct {
	keys []*model.APIKey
}

func (k *routerKeys) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*model.APIKey, error) {
	var out []*model.APIKey
	for _, key := range k.keys {
		if key.KeyPrefix == prefix {
			out = append(out, key)
		}
	}
	return out, nil
}

func (k *routerKeys) UpdateAPIKeyLastUsed(context.Context, string) error { return nil }

func (k *routerKeys) add(t *testing.T, id string, scopes ...string) string {
	t.Helper()
	gen, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	k.keys = append(k.keys, &model.APIKey{
		ID:            id,
		Owner:         "ops",
		KeyHash:       gen.Hash,
		KeyPrefix:     gen.Prefix,
		Scopes:        scopes,
		RateLimitTier: model.TierStandard,
		CreatedAt:     time.Now(),
	})
	return gen.Plaintext
}

func newTestRouter(t *testing.T) (http.Handler, string, string) {
	t.Helper()
	keys := &routerKeys{}
	readKey := keys.add(t, "01HZX3K9QJ8YVQ2N7C4T5R6W2A", model.ScopeRead)
	adminKey := keys.add(t, "01HZX3K9QJ8YVQ2N7C4T5R6W2B", model.ScopeAdmin)

	logger := discardLogger()
	r := NewRouter(RouterConfig{
		Logger:   logger,
		Auth:     middleware.AuthConfig{Logger: logger, Keys: keys, MinDuration: time.Millisecond},
		CORS:     middleware.DefaultCORSConfig(),
		Security: middleware.SecurityConfig{IsDevelopment: true},
		Health:   NewHealthHandler(),
		Users:    NewUserHandler(newFakeUsers(), &fakeSubs{}, logger),
		Payments: NewPaymentHandler(newFakePayments(model.PaymentSucceeded), logger),
		Promos:   NewPromoHandler(&fakePromos{}, logger),
		Admin:    NewAdminHandler(fakeStats{}, &fakeBroadcaster{}, logger),
	})
	return r, readKey, adminKey
}

func TestRouter(t *testing.T) {
	r, readKey, adminKey := newTestRouter(t)

	tests := []struct {
		name        string
		method      string
		path        string
		key         string
		contentType string
		body        string
		wantStatus  int
	}{
		{"liveness is public", http.MethodGet, "/healthz", "", "", "", http.StatusOK},
		{"readiness is public", http.MethodGet, "/readyz", "", "", "", http.StatusOK},
		{"api requires key", http.MethodGet, "/api/v1/users", "", "", "", http.StatusUnauthorized},
		{"read key lists users", http.MethodGet, "/api/v1/users", readKey, "", "", http.StatusOK},
		{"read key gets user", http.MethodGet, "/api/v1/users/" + testUserID, readKey, "", "", http.StatusOK},
		{"read key cannot block", http.MethodPost, "/api/v1/users/" + testUserID + "/block", readKey, "", "", http.StatusForbidden},
		{"admin key blocks", http.MethodPost, "/api/v1/users/" + testUserID + "/block", adminKey, "", "", http.StatusNoContent},
		{"malformed user id", http.MethodGet, "/api/v1/users/not-an-id", readKey, "", "", http.StatusBadRequest},
		{"read key cannot refund", http.MethodPost, "/api/v1/payments/" + testPaymentID + "/refund", readKey, "", "", http.StatusForbidden},
		{"read key cannot broadcast", http.MethodPost, "/api/v1/broadcasts", readKey, "application/json", `{"text":"hi"}`, http.StatusForbidden},
		{"admin broadcasts", http.MethodPost, "/api/v1/broadcasts", adminKey, "application/json", `{"text":"hi"}`, http.StatusAccepted},
		{"non-json body", http.MethodPost, "/api/v1/promos", adminKey, "text/plain", `code=X`, http.StatusUnsupportedMediaType},
		{"stats", http.MethodGet, "/api/v1/stats", readKey, "", "", http.StatusOK},
		{"webhook is public", http.MethodPost, "/webhooks/yookassa", "", "application/json", `{"event":"payment.succeeded"}`, http.StatusOK},
		{"keys not mounted", http.MethodGet, "/api/v1/api-keys", adminKey, "", "", http.StatusNotFound},
		{"unknown path", http.MethodGet, "/nope", "", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRouter_ResponseHeaders(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", rec.Header().Get("X-Content-Type-Options"))
	}
}
