package tenant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/courier/internal/auth"
)

// Store is the narrow persistence surface the middleware consumes.
type Store interface {
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
}

type ctxKey struct{}

// NewContext returns a context carrying the resolved tenant.
func NewContext(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tenant resolved by the middleware, or nil.
func FromContext(ctx context.Context) *Tenant {
	t, _ := ctx.Value(ctxKey{}).(*Tenant)
	return t
}

// Middleware resolves the authenticated caller's tenant and stores it in the
// request context. It must run after auth.Middleware.
func Middleware(store Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.FromContext(r.Context())
			if identity == nil || identity.TenantSlug == "" {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no authenticated tenant")
				return
			}

			t, err := store.GetTenantBySlug(r.Context(), identity.TenantSlug)
			if err != nil {
				logger.Warn("tenant lookup failed", "tenant_slug", identity.TenantSlug, "error", err)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "unknown tenant")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), t)))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": msg})
}
