package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/wisbric/courier/internal/apperror"
)

// StaticAuthenticator validates bearer tokens against a fixed token → tenant
// mapping. Intended for development and tests; production callers use OIDC.
type StaticAuthenticator struct {
	tokens map[string]string // token → tenant slug
}

// NewStaticAuthenticator parses "token:tenant-slug" pairs.
func NewStaticAuthenticator(pairs []string) (*StaticAuthenticator, error) {
	tokens := make(map[string]string, len(pairs))
	for _, p := range pairs {
		token, slug, ok := strings.Cut(p, ":")
		if !ok || token == "" || slug == "" {
			return nil, fmt.Errorf("malformed static token entry (want token:tenant-slug)")
		}
		tokens[token] = slug
	}
	return &StaticAuthenticator{tokens: tokens}, nil
}

// Authenticate validates the token with a constant-time comparison per entry.
func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperror.New(apperror.KindUnauthorized, "empty bearer token")
	}
	for candidate, slug := range a.tokens {
		if len(candidate) == len(token) && subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return &Identity{
				Subject:    "static:" + slug,
				TenantSlug: slug,
				Method:     MethodStatic,
			}, nil
		}
	}
	return nil, apperror.New(apperror.KindUnauthorized, "unknown token")
}
