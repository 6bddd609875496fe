package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used by tests and dev mode.
type MemoryQueue struct {
	mu     sync.Mutex
	ready  chan Task
	timers []*time.Timer
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ready: make(chan Task, capacity)}
}

// Enqueue pushes a task onto the ready channel.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.ready <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task is available or ctx is cancelled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.ready:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// RequeueAfter re-enqueues the task after delay.
func (q *MemoryQueue) RequeueAfter(_ context.Context, task Task, delay time.Duration) error {
	timer := time.AfterFunc(delay, func() {
		q.ready <- task
	})
	q.mu.Lock()
	q.timers = append(q.timers, timer)
	q.mu.Unlock()
	return nil
}

// Len returns the number of ready tasks. Test helper.
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

// Stop cancels pending delayed requeues.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = nil
}
