package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

// Memory is an in-process Gateway used by tests and dev mode. Its
// PatchMessage holds the same compare-and-swap contract as Postgres, so
// dispatch-race tests run against the real coordination semantics.
type Memory struct {
	mu       sync.Mutex
	tenants  map[uuid.UUID]tenant.Tenant
	contacts map[uuid.UUID]tenant.Contact
	messages map[uuid.UUID]message.ScheduledMessage
	events   []message.Event
	dedupe   map[string]struct{}
}

// NewMemory creates an empty Memory gateway.
func NewMemory() *Memory {
	return &Memory{
		tenants:  make(map[uuid.UUID]tenant.Tenant),
		contacts: make(map[uuid.UUID]tenant.Contact),
		messages: make(map[uuid.UUID]message.ScheduledMessage),
		dedupe:   make(map[string]struct{}),
	}
}

var _ Gateway = (*Memory)(nil)

func dedupeKey(provider, providerMessageID string, status message.EventStatus) string {
	return provider + "|" + providerMessageID + "|" + string(status)
}

func (s *Memory) InsertTenant(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = *t
	return nil
}

func (s *Memory) GetTenant(_ context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "tenant not found")
	}
	return &t, nil
}

func (s *Memory) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			out := t
			return &out, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "tenant not found")
}

func (s *Memory) InsertContact(_ context.Context, c *tenant.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = *c
	return nil
}

func (s *Memory) GetContact(_ context.Context, tenantID, id uuid.UUID) (*tenant.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, apperror.New(apperror.KindNotFound, "contact not found")
	}
	return &c, nil
}

func (s *Memory) ContactExists(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return ok && c.TenantID == tenantID, nil
}

func (s *Memory) InsertMessage(_ context.Context, m *message.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("message %s already exists", m.ID)
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id uuid.UUID) (*message.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "message not found")
	}
	return &m, nil
}

func (s *Memory) GetMessageByProviderID(_ context.Context, providerMessageID string) (*message.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			out := m
			return &out, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "message not found")
}

func (s *Memory) ListMessages(_ context.Context, tenantID uuid.UUID, status message.Status, limit, offset int) ([]message.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.ScheduledMessage
	for _, m := range s.messages {
		if m.TenantID != tenantID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.After(out[j].SendAt) })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CountMessages(_ context.Context, tenantID uuid.UUID, status message.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.TenantID != tenantID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Memory) ListDue(_ context.Context, now time.Time, limit int) ([]message.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.ScheduledMessage
	for _, m := range s.messages {
		if m.Status == message.StatusScheduled && !m.SendAt.After(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) PatchMessage(_ context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != expect {
		return false, nil
	}
	m.Status = patch.Status
	if patch.Attempts != nil {
		m.Attempts = *patch.Attempts
	}
	if patch.ProviderMessageID != nil {
		pmid := *patch.ProviderMessageID
		m.ProviderMessageID = &pmid
	}
	m.UpdatedAt = time.Now()
	s.messages[id] = m
	return true, nil
}

func (s *Memory) InsertEvent(_ context.Context, e *message.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ProviderMessageID != nil && dedupedEventStatus(e.Status) {
		key := dedupeKey(e.Provider, *e.ProviderMessageID, e.Status)
		if _, dup := s.dedupe[key]; dup {
			return apperror.New(apperror.KindConflict, "duplicate message event")
		}
		s.dedupe[key] = struct{}{}
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *Memory) HasEvent(_ context.Context, provider, providerMessageID string, status message.EventStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Provider == provider && e.Status == status &&
			e.ProviderMessageID != nil && *e.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) ListEvents(_ context.Context, tenantID, scheduledMessageID uuid.UUID) ([]message.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && e.ScheduledMessageID != nil && *e.ScheduledMessageID == scheduledMessageID {
			out = append(out, e)
		}
	}
	return out, nil
}

// AllEvents returns every stored event. Test helper.
func (s *Memory) AllEvents() []message.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Event, len(s.events))
	copy(out, s.events)
	return out
}
