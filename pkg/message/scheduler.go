package message

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/internal/telemetry"
)

// ScheduleGraceWindow is how far in the past sendAt may lie before
// scheduling is rejected. Small clock skew between callers and the
// service should not fail otherwise-valid requests.
const ScheduleGraceWindow = 2 * time.Minute

// SchedulerStore is the persistence surface the scheduler needs.
type SchedulerStore interface {
	ContactExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	InsertMessage(ctx context.Context, m *ScheduledMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	ListMessages(ctx context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]ScheduledMessage, error)
	CountMessages(ctx context.Context, tenantID uuid.UUID, status Status) (int, error)
	PatchMessage(ctx context.Context, id uuid.UUID, expect Status, patch Patch) (bool, error)
	ListEvents(ctx context.Context, tenantID, scheduledMessageID uuid.UUID) ([]Event, error)
}

// Scheduler creates and cancels scheduled messages. All operations are
// scoped to the calling tenant.
type Scheduler struct {
	store  SchedulerStore
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(store SchedulerStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, logger: logger, now: time.Now}
}

// ScheduleRequest carries the inputs for Schedule.
type ScheduleRequest struct {
	ContactID  uuid.UUID
	TemplateID *uuid.UUID
	SendAt     time.Time
	Payload    Payload
}

// Schedule validates the request and inserts a new message with status
// scheduled and attempts 0.
func (s *Scheduler) Schedule(ctx context.Context, tenantID uuid.UUID, req ScheduleRequest) (*ScheduledMessage, error) {
	if err := req.Payload.Validate(); err != nil {
		return nil, apperror.Wrap(apperror.KindBadRequest, "invalid payload", err)
	}
	if s.now().Sub(req.SendAt) > ScheduleGraceWindow {
		return nil, apperror.New(apperror.KindBadRequest, "send_at is in the past")
	}

	ok, err := s.store.ContactExists(ctx, tenantID, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("checking contact: %w", err)
	}
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "contact not found")
	}

	now := s.now()
	m := &ScheduledMessage{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ContactID:  req.ContactID,
		TemplateID: req.TemplateID,
		Channel:    req.Payload.Channel,
		SendAt:     req.SendAt,
		Payload:    req.Payload,
		Status:     StatusScheduled,
		Attempts:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	telemetry.MessagesScheduledTotal.WithLabelValues(string(m.Channel)).Inc()
	s.logger.Info("message scheduled",
		"message_id", m.ID,
		"tenant_id", m.TenantID,
		"channel", m.Channel,
		"send_at", m.SendAt,
	)
	return m, nil
}

// Cancel moves a message from scheduled to cancelled. Once the poller
// has claimed the message the cancellation loses: dispatch wins that
// race by design of the state machine.
func (s *Scheduler) Cancel(ctx context.Context, tenantID, messageID uuid.UUID) (*ScheduledMessage, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.TenantID != tenantID {
		return nil, apperror.New(apperror.KindForbidden, "message belongs to another tenant")
	}
	if m.Status != StatusScheduled {
		return nil, apperror.Newf(apperror.KindConflict, "cannot cancel message in status %q", m.Status)
	}

	ok, err := s.store.PatchMessage(ctx, m.ID, StatusScheduled, Patch{Status: StatusCancelled})
	if err != nil {
		return nil, fmt.Errorf("cancelling message: %w", err)
	}
	if !ok {
		// Lost the race against the poller between read and write.
		return nil, apperror.New(apperror.KindConflict, "message already claimed for dispatch")
	}

	m.Status = StatusCancelled
	s.logger.Info("message cancelled", "message_id", m.ID, "tenant_id", tenantID)
	return m, nil
}

// Get returns a tenant's message by ID.
func (s *Scheduler) Get(ctx context.Context, tenantID, messageID uuid.UUID) (*ScheduledMessage, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.TenantID != tenantID {
		return nil, apperror.New(apperror.KindNotFound, "message not found")
	}
	return m, nil
}

// List returns a page of a tenant's messages, optionally filtered by status,
// together with the total match count.
func (s *Scheduler) List(ctx context.Context, tenantID uuid.UUID, status Status, limit, offset int) ([]ScheduledMessage, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	total, err := s.store.CountMessages(ctx, tenantID, status)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.store.ListMessages(ctx, tenantID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Events returns the delivery event log of a tenant's message.
func (s *Scheduler) Events(ctx context.Context, tenantID, messageID uuid.UUID) ([]Event, error) {
	if _, err := s.Get(ctx, tenantID, messageID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, tenantID, messageID)
}
