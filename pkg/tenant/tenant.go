// Package tenant holds the tenant and contact model and the middleware that
// scopes every request to the authenticated caller's tenant.
package tenant

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ProviderConfig is a tenant's per-channel provider credential set.
// Credential fields must never appear in logs or error messages.
type ProviderConfig struct {
	Channel     string          `json:"channel"`
	Provider    string          `json:"provider"` // "twilio", "resend"
	AccountSID  string          `json:"account_sid,omitempty"`
	AuthToken   string          `json:"auth_token,omitempty"`
	APIKey      string          `json:"api_key,omitempty"`
	FromAddress string          `json:"from_address"`
	// BaseURL overrides the provider's API endpoint, mainly for tests
	// and sandbox accounts. Empty means the provider default.
	BaseURL string `json:"base_url,omitempty"`
}

// LogValue redacts credentials when a ProviderConfig is logged via slog.
func (c ProviderConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel", c.Channel),
		slog.String("provider", c.Provider),
		slog.String("from_address", c.FromAddress),
	)
}

// Tenant owns contacts, scheduled messages, and message events.
type Tenant struct {
	ID              uuid.UUID        `json:"id"`
	Slug            string           `json:"slug"`
	Name            string           `json:"name"`
	Plan            string           `json:"plan,omitempty"`
	ProviderConfigs []ProviderConfig `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ConfigFor returns the tenant's provider config for the given channel.
func (t *Tenant) ConfigFor(ch string) (ProviderConfig, bool) {
	for _, c := range t.ProviderConfigs {
		if c.Channel == ch {
			return c, true
		}
	}
	return ProviderConfig{}, false
}

// Contact is a tenant-scoped recipient. Referenced, not owned, by
// scheduled messages.
type Contact struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	FirstName string          `json:"first_name,omitempty"`
	LastName  string          `json:"last_name,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Email     string          `json:"email,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DestinationFor returns the contact's address for the given channel.
func (c *Contact) DestinationFor(ch string) (string, bool) {
	switch ch {
	case "sms":
		return c.Phone, c.Phone != ""
	case "email":
		return c.Email, c.Email != ""
	}
	return "", false
}
