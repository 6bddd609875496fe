// Package provider implements outbound delivery clients for SMS and
// email providers. Each client classifies failures as transient
// (retryable) or permanent so the dispatch workers can decide whether
// to retry.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

// Client sends a single message to an external delivery provider and
// returns the provider-assigned message ID on success.
type Client interface {
	// Name identifies the provider, e.g. "twilio" or "resend". It is
	// recorded on delivery events and matched against inbound webhooks.
	Name() string

	// Send delivers payload to destination. Errors are classified via
	// apperror: KindTransient failures may be retried, KindPermanent
	// failures must not be.
	Send(ctx context.Context, destination string, payload message.Payload) (providerMessageID string, err error)
}

// classifyStatus maps a provider HTTP response code to an error kind.
// 429 and all 5xx responses are worth retrying; any other non-2xx code
// means the request itself is bad and a retry would fail the same way.
func classifyStatus(code int) apperror.Kind {
	if code == http.StatusTooManyRequests || code >= 500 {
		return apperror.KindTransient
	}
	return apperror.KindPermanent
}

// Registry builds provider clients from per-tenant provider
// configuration.
type Registry struct {
	httpClient *http.Client
}

// NewRegistry creates a registry whose clients share httpClient. A nil
// httpClient falls back to a default with no timeout; callers are
// expected to bound Send with a context deadline.
func NewRegistry(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Registry{httpClient: httpClient}
}

// ClientFor returns a delivery client for the given tenant provider
// config. It fails with KindPermanent when the provider is unknown or
// the config is missing required credentials, since retrying cannot
// fix either.
func (r *Registry) ClientFor(cfg tenant.ProviderConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderTwilio:
		return NewTwilioClient(cfg, r.httpClient)
	case ProviderResend:
		return NewResendClient(cfg, r.httpClient)
	default:
		return nil, apperror.New(apperror.KindPermanent, fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// Provider name constants as they appear in tenant configs, delivery
// events and webhook paths.
const (
	ProviderTwilio = "twilio"
	ProviderResend = "resend"
)
