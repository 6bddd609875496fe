// Package auth verifies caller identity. Token verification itself is an
// external concern: the service only consumes an Authenticator that answers
// valid/invalid and yields the caller's tenant.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Authentication methods recorded on the Identity.
const (
	MethodOIDC   = "oidc"
	MethodStatic = "static"
)

// Identity describes an authenticated caller.
type Identity struct {
	Subject    string
	TenantSlug string
	TenantID   uuid.UUID
	Method     string
}

// Authenticator validates a bearer token and returns the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// Chain tries each authenticator in order and returns the first
// successful identity. Nil entries are skipped.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context, token string) (*Identity, error) {
	var lastErr error
	for _, a := range c {
		if a == nil {
			continue
		}
		id, err := a.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoAuthenticator
	}
	return nil, lastErr
}

var errNoAuthenticator = errors.New("no authenticator configured")

type ctxKey struct{}

// NewContext returns a context carrying the identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
