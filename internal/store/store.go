// Package store is the persistence gateway. The conditional-write primitive
// (PatchMessage with an expected prior status) is the only cross-replica
// serialization point in the system: the poller, the delivery workers, and
// the webhook ingestor all guard their transitions with it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

// Gateway is the narrow store surface consumed by the core. Implementations:
// Postgres for production, Memory for tests and dev mode.
type Gateway interface {
	// Tenants
	InsertTenant(ctx context.Context, t *tenant.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)

	// Contacts. Reads are tenant-scoped: a contact belonging to another
	// tenant is a not-found failure, never silently filtered data.
	InsertContact(ctx context.Context, c *tenant.Contact) error
	GetContact(ctx context.Context, tenantID, id uuid.UUID) (*tenant.Contact, error)
	ContactExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)

	// Scheduled messages
	InsertMessage(ctx context.Context, m *message.ScheduledMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*message.ScheduledMessage, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*message.ScheduledMessage, error)
	ListMessages(ctx context.Context, tenantID uuid.UUID, status message.Status, limit, offset int) ([]message.ScheduledMessage, error)
	CountMessages(ctx context.Context, tenantID uuid.UUID, status message.Status) (int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]message.ScheduledMessage, error)

	// PatchMessage applies patch only if the stored status still equals
	// expect. Returns false (and no error) when another actor won the race.
	PatchMessage(ctx context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error)

	// Message events (append-only). InsertEvent returns a Conflict error
	// when a terminal external event with the same
	// (provider, providerMessageID, status) key already exists.
	InsertEvent(ctx context.Context, e *message.Event) error
	HasEvent(ctx context.Context, provider, providerMessageID string, status message.EventStatus) (bool, error)
	ListEvents(ctx context.Context, tenantID, scheduledMessageID uuid.UUID) ([]message.Event, error)
}

// dedupedEventStatus reports whether the event status participates in the
// terminal-external-event dedupe key.
func dedupedEventStatus(s message.EventStatus) bool {
	return s == message.EventDelivered || s == message.EventBounced
}
