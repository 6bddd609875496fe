// Package queue provides the dispatch work queue. Coordination across
// replicas happens at the storage layer; the queue only moves task
// references between the poller and the delivery workers.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/pkg/message"
)

// Task is a reference to a claimed scheduled message awaiting delivery.
type Task struct {
	ScheduledMessageID uuid.UUID       `json:"scheduled_message_id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	ContactID          uuid.UUID       `json:"contact_id"`
	Channel            message.Channel `json:"channel"`
}

// Queue is the work queue consumed by the delivery worker pool.
type Queue interface {
	// Enqueue pushes a task onto the ready queue.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue blocks until a task is available or ctx is cancelled.
	Dequeue(ctx context.Context) (Task, error)

	// RequeueAfter schedules a task to re-enter the ready queue after delay.
	RequeueAfter(ctx context.Context, task Task, delay time.Duration) error
}
