package message

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
)

// fakeStore is a minimal in-memory SchedulerStore.
type fakeStore struct {
	contacts map[uuid.UUID]uuid.UUID // contact → tenant
	messages map[uuid.UUID]*ScheduledMessage
	events   map[uuid.UUID][]Event

	patchDenied bool // force PatchMessage to report a lost race
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: make(map[uuid.UUID]uuid.UUID),
		messages: make(map[uuid.UUID]*ScheduledMessage),
		events:   make(map[uuid.UUID][]Event),
	}
}

func (f *fakeStore) ContactExists(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	return f.contacts[id] == tenantID, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m *ScheduledMessage) error {
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "message not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMessages(_ context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]ScheduledMessage, error) {
	var out []ScheduledMessage
	for _, m := range f.messages {
		if m.TenantID != tenantID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, *m)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountMessages(_ context.Context, tenantID uuid.UUID, status Status) (int, error) {
	n := 0
	for _, m := range f.messages {
		if m.TenantID == tenantID && (status == "" || m.Status == status) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PatchMessage(_ context.Context, id uuid.UUID, expect Status, patch Patch) (bool, error) {
	if f.patchDenied {
		return false, nil
	}
	m, ok := f.messages[id]
	if !ok || m.Status != expect {
		return false, nil
	}
	m.Status = patch.Status
	return true, nil
}

func (f *fakeStore) ListEvents(_ context.Context, _, scheduledMessageID uuid.UUID) ([]Event, error) {
	return f.events[scheduledMessageID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedule(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())

	m, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if m.Status != StatusScheduled {
		t.Errorf("status = %q, want scheduled", m.Status)
	}
	if m.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", m.Attempts)
	}
	if m.Channel != ChannelSMS {
		t.Errorf("channel = %q, want sms", m.Channel)
	}
	if _, ok := store.messages[m.ID]; !ok {
		t.Error("message not persisted")
	}
}

func TestSchedule_PastSendAt(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())

	// Within the grace window: accepted.
	if _, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(-time.Minute),
		Payload:   NewSMSPayload("hello"),
	}); err != nil {
		t.Fatalf("Schedule within grace window: %v", err)
	}

	// Beyond the grace window: rejected.
	_, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(-time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if apperror.KindOf(err) != apperror.KindBadRequest {
		t.Errorf("expected bad request, got %v", err)
	}
}

func TestSchedule_ContactOtherTenant(t *testing.T) {
	store := newFakeStore()
	contactID := uuid.New()
	store.contacts[contactID] = uuid.New() // belongs to someone else

	s := NewScheduler(store, discardLogger())

	_, err := s.Schedule(context.Background(), uuid.New(), ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if apperror.KindOf(err) != apperror.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSchedule_InvalidPayload(t *testing.T) {
	s := NewScheduler(newFakeStore(), discardLogger())

	_, err := s.Schedule(context.Background(), uuid.New(), ScheduleRequest{
		ContactID: uuid.New(),
		SendAt:    time.Now().Add(time.Hour),
		Payload:   Payload{Channel: ChannelSMS}, // no body
	})
	if apperror.KindOf(err) != apperror.KindBadRequest {
		t.Errorf("expected bad request, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())
	m, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	got, err := s.Cancel(context.Background(), tenantID, m.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	// Cancelling again is a conflict: cancelled is terminal.
	if _, err := s.Cancel(context.Background(), tenantID, m.ID); apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestCancel_OtherTenant(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())
	m, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := s.Cancel(context.Background(), uuid.New(), m.ID); apperror.KindOf(err) != apperror.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
	if store.messages[m.ID].Status != StatusScheduled {
		t.Error("cross-tenant cancel mutated the message")
	}
}

func TestCancel_LostRaceAgainstDispatch(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())
	m, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// The poller claims the message between the scheduler's read and write.
	store.patchDenied = true
	if _, err := s.Cancel(context.Background(), tenantID, m.ID); apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestGet_ScopedToTenant(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	contactID := uuid.New()
	store.contacts[contactID] = tenantID

	s := NewScheduler(store, discardLogger())
	m, err := s.Schedule(context.Background(), tenantID, ScheduleRequest{
		ContactID: contactID,
		SendAt:    time.Now().Add(time.Hour),
		Payload:   NewSMSPayload("hello"),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := s.Get(context.Background(), tenantID, m.ID); err != nil {
		t.Errorf("Get by owner: %v", err)
	}
	if _, err := s.Get(context.Background(), uuid.New(), m.ID); apperror.KindOf(err) != apperror.KindNotFound {
		t.Errorf("expected not found for foreign tenant, got %v", err)
	}
}
