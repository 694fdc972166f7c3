package bus

import (
	"context"
	"testing"
	"time"

	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/pkg/models"
)

func event(taskID string, seq int64) *models.Event {
	return &models.Event{
		TaskID:    taskID,
		Seq:       seq,
		Kind:      models.EventStatus,
		CreatedAt: time.Now().UTC(),
	}
}

func receive(t *testing.T, sub *Subscription) *models.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: task=%s seq=%d", ev.TaskID, ev.Seq)
	default:
	}
}

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	sub, err := b.Subscribe("task-a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, event("task-a", 1)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(ctx, event("task-b", 1)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := receive(t, sub)
	if got.TaskID != "task-a" || got.Seq != 1 {
		t.Errorf("received task=%s seq=%d, want task-a seq=1", got.TaskID, got.Seq)
	}

	// The task-b event must not reach a task-a subscriber.
	assertEmpty(t, sub)
}

func TestMemorySubscribeAllTasks(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	sub, err := b.Subscribe(AllTasks)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, event("task-a", 1)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(ctx, event("task-b", 1)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := receive(t, sub); got.TaskID != "task-a" {
		t.Errorf("first event task = %s, want task-a", got.TaskID)
	}
	if got := receive(t, sub); got.TaskID != "task-b" {
		t.Errorf("second event task = %s, want task-b", got.TaskID)
	}
}

func TestMemoryDropsWhenBufferFull(t *testing.T) {
	b := NewMemory(1)
	defer b.Close()

	sub, err := b.Subscribe("task-a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	ctx := context.Background()
	for seq := int64(1); seq <= 3; seq++ {
		if err := b.Publish(ctx, event("task-a", seq)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if got := receive(t, sub); got.Seq != 1 {
		t.Errorf("buffered event seq = %d, want 1", got.Seq)
	}
	if got := b.DroppedCount(); got != 2 {
		t.Errorf("DroppedCount() = %d, want 2", got)
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	b := NewMemory(8)
	defer b.Close()

	sub, err := b.Subscribe("task-a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after Close")
	}

	// Publishing after the subscriber left must not panic or error.
	if err := b.Publish(context.Background(), event("task-a", 1)); err != nil {
		t.Errorf("Publish() after subscriber close error = %v", err)
	}
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemory(8)

	sub, err := b.Subscribe("task-a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("subscriber channel still open after bus close")
	}
	if err := b.Publish(context.Background(), event("task-a", 1)); err == nil {
		t.Error("Publish() on closed bus should fail")
	}
	if _, err := b.Subscribe("task-a"); err == nil {
		t.Error("Subscribe() on closed bus should fail")
	}

	// Closing a subscription after the bus is gone must be a no-op.
	sub.Close()
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		taskID string
		want   string
	}{
		{
			name:   "single task",
			prefix: "gravity",
			taskID: "abc-123",
			want:   "gravity.tasks.abc-123.events",
		},
		{
			name:   "all tasks wildcard",
			prefix: "gravity",
			taskID: AllTasks,
			want:   "gravity.tasks.*.events",
		},
		{
			name:   "custom prefix",
			prefix: "staging",
			taskID: "t1",
			want:   "staging.tasks.t1.events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subjectFor(tt.prefix, tt.taskID); got != tt.want {
				t.Errorf("subjectFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	b, err := New(config.BusConfig{Transport: "memory"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()
	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("New(memory) = %T, want *MemoryBus", b)
	}

	if _, err := New(config.BusConfig{Transport: "carrier-pigeon"}); err == nil {
		t.Error("New() with unknown transport should fail")
	}
}

func TestNew_DefaultTransport(t *testing.T) {
	b, err := New(config.BusConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()
	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("New(default) = %T, want *MemoryBus", b)
	}
}
