package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/wisbric/courier/internal/apperror"
)

// oidcClaims are the JWT claims extracted for authentication.
type oidcClaims struct {
	Subject    string `json:"sub"`
	TenantSlug string `json:"tenant_slug"`
}

// OIDCAuthenticator validates OIDC JWTs and extracts the caller's tenant.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator creates an authenticator by performing OIDC discovery
// against the issuer URL. This makes a network call to fetch the provider's
// public keys.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &OIDCAuthenticator{verifier: verifier}, nil
}

// Authenticate validates a bearer token and returns the caller identity.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperror.New(apperror.KindUnauthorized, "empty bearer token")
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnauthorized, "invalid token", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, apperror.Wrap(apperror.KindUnauthorized, "invalid token claims", err)
	}

	if claims.Subject == "" {
		return nil, apperror.New(apperror.KindUnauthorized, "token missing sub claim")
	}
	if claims.TenantSlug == "" {
		return nil, apperror.New(apperror.KindUnauthorized, "token missing tenant_slug claim")
	}

	return &Identity{
		Subject:    claims.Subject,
		TenantSlug: claims.TenantSlug,
		Method:     MethodOIDC,
	}, nil
}
