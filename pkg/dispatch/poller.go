// Package dispatch moves due messages onto the work queue and delivers
// them through the provider clients. The poller and the worker pool may
// each run as multiple replicas; all coordination goes through the
// store's conditional writes, never in-process locks.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/queue"
	"github.com/wisbric/courier/internal/telemetry"
	"github.com/wisbric/courier/pkg/message"
)

// PollerStore is the persistence surface the poller needs.
type PollerStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]message.ScheduledMessage, error)
	PatchMessage(ctx context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error)
	InsertEvent(ctx context.Context, e *message.Event) error
}

// Poller claims due messages and pushes dispatch tasks onto the queue.
// Claiming is a conditional write from scheduled to queued, so replicas
// polling the same rows produce exactly one task per message.
type Poller struct {
	store     PollerStore
	queue     queue.Queue
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(store PollerStore, q queue.Queue, logger *slog.Logger, interval time.Duration, batchSize int) *Poller {
	return &Poller{
		store:     store,
		queue:     q,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run polls on a fixed interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("dispatch poller started", "interval", p.interval, "batch_size", p.batchSize)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("dispatch poller stopped")
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// PollOnce runs a single poll cycle and returns the number of messages
// claimed and enqueued. It is safe to call concurrently from multiple
// replicas.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	due, err := p.store.ListDue(ctx, p.now(), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due messages: %w", err)
	}

	claimed := 0
	for _, m := range due {
		ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusScheduled, message.Patch{Status: message.StatusQueued})
		if err != nil {
			return claimed, fmt.Errorf("claiming message %s: %w", m.ID, err)
		}
		if !ok {
			// Another poller won the claim. Skip silently.
			continue
		}

		if err := p.enqueue(ctx, m); err != nil {
			// The row is already queued; without a task it would sit
			// there forever, so it is finalized as failed instead.
			p.logger.Error("enqueue failed after claim", "error", err, "message_id", m.ID)
			p.markEnqueueFailed(ctx, m)
			continue
		}

		claimed++
		telemetry.DispatchClaimedTotal.Inc()
	}
	return claimed, nil
}

// enqueue pushes the dispatch task, retrying transient queue errors a
// few times before giving up. The push is idempotent from the queue's
// point of view: the row is already queued either way.
func (p *Poller) enqueue(ctx context.Context, m message.ScheduledMessage) error {
	task := queue.Task{
		ScheduledMessageID: m.ID,
		TenantID:           m.TenantID,
		ContactID:          m.ContactID,
		Channel:            m.Channel,
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.queue.Enqueue(ctx, task)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	return err
}

func (p *Poller) markEnqueueFailed(ctx context.Context, m message.ScheduledMessage) {
	ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusQueued, message.Patch{Status: message.StatusFailed})
	if err != nil || !ok {
		p.logger.Error("marking message failed after enqueue error", "error", err, "message_id", m.ID)
		return
	}
	event := &message.Event{
		ID:                 uuid.New(),
		TenantID:           m.TenantID,
		ScheduledMessageID: &m.ID,
		Status:             message.EventFailed,
		Reason:             message.ReasonEnqueueError,
		CreatedAt:          p.now(),
	}
	if err := p.store.InsertEvent(ctx, event); err != nil {
		p.logger.Error("recording enqueue failure event", "error", err, "message_id", m.ID)
	}
}
