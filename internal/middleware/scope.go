package middleware

import (
	"net/http"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/model"
)

// RequireScope enforces that the authenticated key holds at least one of
// the given scopes. Admin implies every scope. Apply after Auth.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w)
				return
			}
			for _, s := range required {
				if authCtx.HasScope(s) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeScopeError(w, required[0])
		})
	}
}

func RequireRead() func(http.Handler) http.Handler  { return RequireScope(model.ScopeRead) }
func RequireWrite() func(http.Handler) http.Handler { return RequireScope(model.ScopeWrite) }
func RequireAdmin() func(http.Handler) http.Handler { return RequireScope(model.ScopeAdmin) }

func writeScopeError(w http.ResponseWriter, scope string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"Insufficient permissions. Required scope: ` + scope + `"}}`))
}
