package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// NATSBus publishes task events over a NATS connection so multiple gravity
// processes can share one event stream. Events are JSON on subjects of the
// form <prefix>.tasks.<task_id>.events.
type NATSBus struct {
	conn   *nats.Conn
	prefix string

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewNATS connects to the given NATS server and returns a bus publishing
// under the given subject prefix.
func NewNATS(url, prefix string) (*NATSBus, error) {
	if prefix == "" {
		prefix = "gravity"
	}
	conn, err := nats.Connect(url,
		nats.Name("gravity"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{
		conn:   conn,
		prefix: prefix,
		subs:   make(map[*Subscription]struct{}),
	}, nil
}

// Publish marshals the event and publishes it on the task's subject.
func (b *NATSBus) Publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subjectFor(b.prefix, event.TaskID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers a consumer for one task's subject, or the wildcard
// subject when taskID is AllTasks.
func (b *NATSBus) Subscribe(taskID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	msgs := make(chan *nats.Msg, DefaultBuffer)
	natsSub, err := b.conn.ChanSubscribe(subjectFor(b.prefix, taskID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subjectFor(b.prefix, taskID), err)
	}

	sub := &Subscription{ch: make(chan *models.Event, DefaultBuffer)}
	done := make(chan struct{})

	// Pump goroutine owns sub.ch: it is the only sender and closes it on exit.
	go func() {
		defer close(sub.ch)
		for {
			select {
			case <-done:
				return
			case msg := <-msgs:
				if msg == nil {
					return
				}
				var event models.Event
				if err := json.Unmarshal(msg.Data, &event); err != nil {
					log.Printf("[bus] dropping malformed event on %s: %v", msg.Subject, err)
					continue
				}
				select {
				case sub.ch <- &event:
				case <-done:
					return
				}
			}
		}
	}()

	sub.release = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		if err := natsSub.Unsubscribe(); err != nil {
			log.Printf("[bus] unsubscribe: %v", err)
		}
		close(done)
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close closes all subscriptions, drains the connection, and shuts it down.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	if err := b.conn.Drain(); err != nil {
		log.Printf("[bus] drain: %v", err)
	}
	b.conn.Close()
	return nil
}

// subjectFor returns the NATS subject carrying one task's events, or the
// single-level wildcard subject when taskID is AllTasks.
func subjectFor(prefix, taskID string) string {
	if taskID == AllTasks {
		return fmt.Sprintf("%s.tasks.*.events", prefix)
	}
	return fmt.Sprintf("%s.tasks.%s.events", prefix, taskID)
}
