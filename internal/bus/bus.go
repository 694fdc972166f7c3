// Package bus fans task events out from the engine to stream consumers.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/pkg/models"
)

// AllTasks subscribes a consumer to events from every task.
const AllTasks = ""

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Bus carries task events from the engine to subscribers. Delivery is
// at-least-once and never blocks the publisher: a consumer that falls behind
// misses events and is expected to re-read the event log from its last seq.
type Bus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event *models.Event) error
	// Subscribe registers a consumer for one task's events, or for all
	// tasks when taskID is AllTasks.
	Subscribe(taskID string) (*Subscription, error)
	// Close shuts down the bus and closes every open subscription.
	Close() error
}

// New builds the bus selected by the configuration.
func New(cfg config.BusConfig) (Bus, error) {
	switch cfg.Transport {
	case "", "memory":
		return NewMemory(DefaultBuffer), nil
	case "nats":
		return NewNATS(cfg.NATSURL, cfg.SubjectPrefix)
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}

// Subscription is a live event feed for one consumer.
type Subscription struct {
	ch      chan *models.Event
	release func()
	once    sync.Once
}

// Events returns the channel events arrive on. The channel is closed when
// the subscription or the owning bus is closed.
func (s *Subscription) Events() <-chan *models.Event {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.release)
}

var (
	_ Bus = (*MemoryBus)(nil)
	_ Bus = (*NATSBus)(nil)
)
