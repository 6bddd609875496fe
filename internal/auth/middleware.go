package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates the request via the Authorization: Bearer header
// and stores the resulting Identity in the request context. Requests without
// a valid token are rejected with 401 before any body is read.
func Middleware(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			identity, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				logger.Warn("authentication failed", "error", err)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), identity)))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// respondErr writes a minimal JSON error without importing httpserver
// (which would create an import cycle).
func respondErr(w http.ResponseWriter, status int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": msg})
}
