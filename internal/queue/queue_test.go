package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/courier/pkg/message"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	want := Task{
		ScheduledMessageID: uuid.New(),
		TenantID:           uuid.New(),
		ContactID:          uuid.New(),
		Channel:            message.ChannelSMS,
	}

	if err := q.Enqueue(ctx, want); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != want {
		t.Errorf("Dequeue = %+v, want %+v", got, want)
	}
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Error("expected context error from Dequeue on empty queue")
	}
}

func TestMemoryQueue_RequeueAfter(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Stop()
	ctx := context.Background()

	task := Task{ScheduledMessageID: uuid.New(), Channel: message.ChannelEmail}
	if err := q.RequeueAfter(ctx, task, 10*time.Millisecond); err != nil {
		t.Fatalf("RequeueAfter: %v", err)
	}

	if q.Len() != 0 {
		t.Error("task should not be ready before the delay elapses")
	}

	deadline, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := q.Dequeue(deadline)
	if err != nil {
		t.Fatalf("Dequeue after delay: %v", err)
	}
	if got.ScheduledMessageID != task.ScheduledMessageID {
		t.Errorf("Dequeue = %+v, want %+v", got, task)
	}
}

func TestTaskWireShape(t *testing.T) {
	task := Task{
		ScheduledMessageID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		TenantID:           uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		ContactID:          uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		Channel:            message.ChannelSMS,
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != task {
		t.Errorf("round trip = %+v, want %+v", got, task)
	}
}
