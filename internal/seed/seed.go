// Package seed provisions development data: a demo tenant with provider
// configs, a few contacts, and sample scheduled messages.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/internal/store"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

// DevBearerToken is the static bearer token seeded for development/testing.
// It maps to the "acme" tenant and should never be used in production.
const DevBearerToken = "courier_dev_token_do_not_use_in_production"

// Run provisions the "acme" development tenant with contacts and a pair of
// scheduled messages. It is idempotent: re-running ensures the resources
// exist without duplicating them.
func Run(ctx context.Context, gw store.Gateway, logger *slog.Logger) error {
	t, err := gw.GetTenantBySlug(ctx, "acme")
	if err == nil {
		logger.Info("seed: tenant 'acme' already exists", "tenant_id", t.ID)
		return nil
	}
	if !apperror.IsKind(err, apperror.KindNotFound) {
		return fmt.Errorf("looking up seed tenant: %w", err)
	}

	t = &tenant.Tenant{
		ID:   uuid.New(),
		Slug: "acme",
		Name: "Acme Corp",
		Plan: "dev",
		ProviderConfigs: []tenant.ProviderConfig{
			{
				Channel:     "sms",
				Provider:    "twilio",
				AccountSID:  "AC_dev_sandbox",
				AuthToken:   "dev_auth_token",
				FromAddress: "+15005550006",
			},
			{
				Channel:     "email",
				Provider:    "resend",
				APIKey:      "re_dev_sandbox",
				FromAddress: "notifications@acme.example",
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := gw.InsertTenant(ctx, t); err != nil {
		return fmt.Errorf("inserting seed tenant: %w", err)
	}
	logger.Info("seed: created tenant 'acme'", "tenant_id", t.ID)

	contacts := []tenant.Contact{
		{
			ID:        uuid.New(),
			TenantID:  t.ID,
			FirstName: "Ada",
			LastName:  "Lovelace",
			Phone:     "+15005550100",
			Email:     "ada@acme.example",
		},
		{
			ID:        uuid.New(),
			TenantID:  t.ID,
			FirstName: "Grace",
			LastName:  "Hopper",
			Email:     "grace@acme.example",
		},
	}
	for i := range contacts {
		contacts[i].CreatedAt = time.Now().UTC()
		if err := gw.InsertContact(ctx, &contacts[i]); err != nil {
			return fmt.Errorf("inserting seed contact: %w", err)
		}
	}
	logger.Info("seed: created contacts", "count", len(contacts))

	now := time.Now().UTC()
	messages := []message.ScheduledMessage{
		{
			ID:        uuid.New(),
			TenantID:  t.ID,
			ContactID: contacts[0].ID,
			Channel:   message.ChannelSMS,
			SendAt:    now.Add(5 * time.Minute),
			Payload:   message.NewSMSPayload("Your appointment is confirmed for tomorrow at 10:00."),
			Status:    message.StatusScheduled,
		},
		{
			ID:        uuid.New(),
			TenantID:  t.ID,
			ContactID: contacts[1].ID,
			Channel:   message.ChannelEmail,
			SendAt:    now.Add(time.Hour),
			Payload: message.NewEmailPayload(
				"Welcome to Acme",
				"<p>Thanks for signing up. Your account is ready.</p>",
			),
			Status: message.StatusScheduled,
		},
	}
	for i := range messages {
		messages[i].CreatedAt = now
		messages[i].UpdatedAt = now
		if err := gw.InsertMessage(ctx, &messages[i]); err != nil {
			return fmt.Errorf("inserting seed message: %w", err)
		}
	}
	logger.Info("seed: created scheduled messages", "count", len(messages))

	return nil
}
