package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// MemoryBus is the in-process bus used when no external transport is
// configured. Each subscriber gets its own buffered channel; a full buffer
// drops the event for that subscriber only.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]string
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewMemory creates an in-process bus with the given per-subscriber buffer.
func NewMemory(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{
		subs:   make(map[*Subscription]string),
		buffer: buffer,
	}
}

// Publish sends the event to every subscriber whose filter matches.
// Sends never block; a subscriber with a full buffer misses the event.
func (b *MemoryBus) Publish(ctx context.Context, event *models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for sub, filter := range b.subs {
		if filter != AllTasks && filter != event.TaskID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			count := b.dropped.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[bus] subscriber buffer full, dropped event (total dropped: %d): task=%s seq=%d", count, event.TaskID, event.Seq)
			}
		}
	}
	return nil
}

// Subscribe registers a consumer for one task's events, or all tasks when
// taskID is AllTasks.
func (b *MemoryBus) Subscribe(taskID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &Subscription{ch: make(chan *models.Event, b.buffer)}
	sub.release = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
	b.subs[sub] = taskID
	return sub, nil
}

// DroppedCount returns the total number of events dropped on full buffers.
func (b *MemoryBus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Close shuts down the bus and closes all subscriber channels.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	return nil
}
