package handler

import (
	"net/http"

	"github.com/xenking/kart-store/internal/domain/auth"
)

const (
	apiKeyHeader   = "api_key"
	adminKeyCookie = "admin_key"
)

// authenticate resolves the API key from the api_key header or the
// admin_key cookie and stores the key record in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(apiKeyHeader)
		if raw == "" {
			if c, err := r.Cookie(adminKeyCookie); err == nil {
				raw = c.Value
			}
		}
		info, err := h.authn.Authenticate(r.Context(), raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), info)))
	})
}

// requireScope rejects authenticated callers lacking scope.
func requireScope(scope string) func(http.Handler) http.Handler {
	gate := auth.ScopeAuthorizer{Scope: scope}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.Authorize(r.Context(), r.URL.Path); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
