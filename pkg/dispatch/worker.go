package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/internal/queue"
	"github.com/wisbric/courier/internal/telemetry"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/provider"
	"github.com/wisbric/courier/pkg/tenant"
)

// WorkerStore is the persistence surface the delivery workers need.
type WorkerStore interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*message.ScheduledMessage, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	GetContact(ctx context.Context, tenantID, id uuid.UUID) (*tenant.Contact, error)
	PatchMessage(ctx context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error)
	InsertEvent(ctx context.Context, e *message.Event) error
}

// ClientRegistry builds a delivery client from a tenant provider config.
type ClientRegistry interface {
	ClientFor(cfg tenant.ProviderConfig) (provider.Client, error)
}

// WorkerPool consumes dispatch tasks and delivers them through the
// provider clients. Every mutation is conditioned on the message still
// being queued, so a preempted worker cannot overwrite a message some
// other actor already finalized.
type WorkerPool struct {
	store    WorkerStore
	queue    queue.Queue
	registry ClientRegistry
	logger   *slog.Logger

	workers      int
	maxAttempts  int
	sendTimeout  time.Duration
	retryBase    time.Duration
	retryCap     time.Duration
	dequeuePause time.Duration

	now func() time.Time
}

// WorkerConfig bounds the pool's retry and timeout behavior.
type WorkerConfig struct {
	Workers     int
	MaxAttempts int
	SendTimeout time.Duration
	RetryBase   time.Duration
	RetryCap    time.Duration
}

// NewWorkerPool creates a WorkerPool.
func NewWorkerPool(store WorkerStore, q queue.Queue, registry ClientRegistry, logger *slog.Logger, cfg WorkerConfig) *WorkerPool {
	return &WorkerPool{
		store:        store,
		queue:        q,
		registry:     registry,
		logger:       logger,
		workers:      cfg.Workers,
		maxAttempts:  cfg.MaxAttempts,
		sendTimeout:  cfg.SendTimeout,
		retryBase:    cfg.RetryBase,
		retryCap:     cfg.RetryCap,
		dequeuePause: time.Second,
		now:          time.Now,
	}
}

// Run starts the pool and blocks until ctx is cancelled and all workers
// have drained.
func (p *WorkerPool) Run(ctx context.Context) {
	p.logger.Info("delivery workers started", "workers", p.workers, "max_attempts", p.maxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("delivery workers stopped")
}

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			// Pause before retrying so a broken queue does not turn
			// the worker into a busy loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.dequeuePause):
			}
			continue
		}
		p.Process(ctx, task)
	}
}

// Process handles a single dispatch task end to end.
func (p *WorkerPool) Process(ctx context.Context, task queue.Task) {
	logger := p.logger.With("message_id", task.ScheduledMessageID, "tenant_id", task.TenantID)

	m, err := p.store.GetMessage(ctx, task.ScheduledMessageID)
	if err != nil {
		// A store outage must not strand the claimed row: put the
		// task back instead of finalizing or dropping it.
		logger.Error("loading message for task", "error", err)
		p.requeueAfterStoreError(ctx, logger, task)
		return
	}
	if m.Status != message.StatusQueued {
		// Stale task: the message was finalized by someone else.
		logger.Warn("skipping task for non-queued message", "status", m.Status)
		return
	}

	destination, cfg, ferr, err := p.resolve(ctx, m)
	if err != nil {
		logger.Error("resolving task", "error", err)
		p.requeueAfterStoreError(ctx, logger, task)
		return
	}
	if ferr != nil {
		p.failPermanently(ctx, logger, m, ferr.reason, nil)
		return
	}

	client, err := p.registry.ClientFor(cfg)
	if err != nil {
		logger.Error("building provider client", "error", err)
		p.failPermanently(ctx, logger, m, message.ReasonProviderConfigMissing, nil)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	start := p.now()
	providerMessageID, err := client.Send(sendCtx, destination, m.Payload)
	cancel()
	telemetry.SendDuration.WithLabelValues(string(m.Channel)).Observe(time.Since(start).Seconds())

	attempts := m.Attempts + 1
	switch {
	case err == nil:
		p.markSent(ctx, logger, m, client.Name(), providerMessageID, attempts)

	case apperror.IsPermanent(err):
		telemetry.SendsTotal.WithLabelValues(string(m.Channel), "permanent_failure").Inc()
		logger.Warn("permanent send failure", "error", err, "attempts", attempts)
		p.failPermanently(ctx, logger, m, apperror.Message(err), &attempts)

	default:
		// Transient by classification, or unclassified (treated as
		// transient: timeouts and network errors land here).
		p.retryOrDeadLetter(ctx, logger, m, task, client.Name(), err, attempts)
	}
}

// resolveFailure names a permanent pre-send failure.
type resolveFailure struct {
	reason string
}

func (f *resolveFailure) Error() string { return f.reason }

// resolve loads the contact and provider config for the message's channel.
// The resolveFailure names a permanent condition (the data is genuinely
// missing); a non-nil error is a store failure the caller should retry.
func (p *WorkerPool) resolve(ctx context.Context, m *message.ScheduledMessage) (string, tenant.ProviderConfig, *resolveFailure, error) {
	contact, err := p.store.GetContact(ctx, m.TenantID, m.ContactID)
	if apperror.IsKind(err, apperror.KindNotFound) {
		return "", tenant.ProviderConfig{}, &resolveFailure{reason: message.ReasonContactNotFound}, nil
	}
	if err != nil {
		return "", tenant.ProviderConfig{}, nil, fmt.Errorf("loading contact: %w", err)
	}

	destination, ok := contact.DestinationFor(string(m.Channel))
	if !ok {
		return "", tenant.ProviderConfig{}, &resolveFailure{reason: message.ReasonDestinationMissing}, nil
	}

	t, err := p.store.GetTenant(ctx, m.TenantID)
	if apperror.IsKind(err, apperror.KindNotFound) {
		return "", tenant.ProviderConfig{}, &resolveFailure{reason: message.ReasonProviderConfigMissing}, nil
	}
	if err != nil {
		return "", tenant.ProviderConfig{}, nil, fmt.Errorf("loading tenant: %w", err)
	}
	cfg, ok := t.ConfigFor(string(m.Channel))
	if !ok {
		return "", tenant.ProviderConfig{}, &resolveFailure{reason: message.ReasonProviderConfigMissing}, nil
	}
	return destination, cfg, nil, nil
}

// requeueAfterStoreError puts the task back on the queue after a store
// failure. The row stays queued and attempts are untouched: no provider
// call happened.
func (p *WorkerPool) requeueAfterStoreError(ctx context.Context, logger *slog.Logger, task queue.Task) {
	if err := p.queue.RequeueAfter(ctx, task, p.retryBase); err != nil {
		logger.Error("requeueing task after store error", "error", err)
	}
}

func (p *WorkerPool) markSent(ctx context.Context, logger *slog.Logger, m *message.ScheduledMessage, providerName, providerMessageID string, attempts int) {
	ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusQueued, message.Patch{
		Status:            message.StatusSent,
		Attempts:          &attempts,
		ProviderMessageID: &providerMessageID,
	})
	if err != nil {
		logger.Error("marking message sent", "error", err)
		return
	}
	if !ok {
		logger.Warn("message finalized elsewhere before sent patch")
		return
	}

	event := &message.Event{
		ID:                 uuid.New(),
		TenantID:           m.TenantID,
		ScheduledMessageID: &m.ID,
		Provider:           providerName,
		ProviderMessageID:  &providerMessageID,
		Status:             message.EventSent,
		CreatedAt:          p.now(),
	}
	if err := p.store.InsertEvent(ctx, event); err != nil {
		logger.Error("recording sent event", "error", err)
	}

	telemetry.SendsTotal.WithLabelValues(string(m.Channel), "sent").Inc()
	logger.Info("message sent", "provider", providerName, "attempts", attempts)
}

func (p *WorkerPool) failPermanently(ctx context.Context, logger *slog.Logger, m *message.ScheduledMessage, reason string, attempts *int) {
	ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusQueued, message.Patch{
		Status:   message.StatusFailed,
		Attempts: attempts,
	})
	if err != nil {
		logger.Error("marking message failed", "error", err)
		return
	}
	if !ok {
		logger.Warn("message finalized elsewhere before failed patch")
		return
	}

	event := &message.Event{
		ID:                 uuid.New(),
		TenantID:           m.TenantID,
		ScheduledMessageID: &m.ID,
		Status:             message.EventFailed,
		Reason:             reason,
		CreatedAt:          p.now(),
	}
	if err := p.store.InsertEvent(ctx, event); err != nil {
		logger.Error("recording failed event", "error", err)
	}
	logger.Info("message failed permanently", "reason", reason)
}

func (p *WorkerPool) retryOrDeadLetter(ctx context.Context, logger *slog.Logger, m *message.ScheduledMessage, task queue.Task, providerName string, sendErr error, attempts int) {
	telemetry.SendsTotal.WithLabelValues(string(m.Channel), "transient_failure").Inc()

	if attempts < p.maxAttempts {
		ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusQueued, message.Patch{
			Status:   message.StatusQueued,
			Attempts: &attempts,
		})
		if err != nil {
			logger.Error("recording attempt", "error", err)
			return
		}
		if !ok {
			logger.Warn("message finalized elsewhere before retry")
			return
		}

		delay := p.backoffDelay(attempts)
		if err := p.queue.RequeueAfter(ctx, task, delay); err != nil {
			logger.Error("requeueing task", "error", err)
			return
		}
		telemetry.RetriesTotal.Inc()
		logger.Warn("transient send failure, retrying", "error", sendErr, "attempts", attempts, "delay", delay)
		return
	}

	ok, err := p.store.PatchMessage(ctx, m.ID, message.StatusQueued, message.Patch{
		Status:   message.StatusFailed,
		Attempts: &attempts,
	})
	if err != nil {
		logger.Error("marking message failed after retry exhaustion", "error", err)
		return
	}
	if !ok {
		logger.Warn("message finalized elsewhere before dead-letter")
		return
	}

	event := &message.Event{
		ID:                 uuid.New(),
		TenantID:           m.TenantID,
		ScheduledMessageID: &m.ID,
		Provider:           providerName,
		Status:             message.EventDeadLetter,
		Reason:             apperror.Message(sendErr),
		CreatedAt:          p.now(),
	}
	if err := p.store.InsertEvent(ctx, event); err != nil {
		logger.Error("recording dead-letter event", "error", err)
	}

	telemetry.DeadLettersTotal.Inc()
	logger.Error("retries exhausted, message dead-lettered", "error", sendErr, "attempts", attempts)
}

// backoffDelay computes base * 2^attempts with jitter, capped.
func (p *WorkerPool) backoffDelay(attempts int) time.Duration {
	delay := p.retryBase << uint(attempts)
	if delay > p.retryCap || delay <= 0 {
		delay = p.retryCap
	}
	if quarter := int64(delay) / 4; quarter > 0 {
		delay += time.Duration(rand.Int64N(quarter))
	}
	return delay
}
