package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// streamKeepalive is how often an idle stream sends a liveness frame.
const streamKeepalive = 30 * time.Second

// handleStream serves a task's events as Server-Sent Events: a replay of
// the persisted log after the client's last seen seq, then live delivery.
// The stream ends after the terminal status event.
func (s *Server) handleStream(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}
	afterSeq, ok := parseSeqQuery(c, "after_seq")
	if !ok {
		return
	}
	// A reconnecting EventSource resumes from the id of the last frame it saw.
	if raw := c.GetHeader("Last-Event-ID"); raw != "" {
		if seq, err := strconv.ParseInt(raw, 10, 64); err == nil && seq >= 0 {
			afterSeq = seq
		}
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	send := func(ev *models.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}
	keepalive := func() error {
		if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	if err := s.streamEvents(c.Request.Context(), task.ID, afterSeq, send, keepalive); err != nil {
		log.Printf("[server] task %s: stream: %v", task.ID, err)
	}
}

// streamEvents replays persisted events after afterSeq, then relays live
// bus events. Delivery is deduplicated on seq; a gap in the live feed is
// back-filled from the event log, so the client sees every event exactly
// once and in order. Returns after a terminal status event is sent, the
// context ends, or a send fails.
func (s *Server) streamEvents(ctx context.Context, taskID string, afterSeq int64, send func(*models.Event) error, keepalive func() error) error {
	// Subscribe before reading the log so nothing lands in between.
	sub, err := s.bus.Subscribe(taskID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	lastSeq := afterSeq
	done, err := s.sendFromLog(taskID, &lastSeq, send)
	if err != nil || done {
		return err
	}

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-sub.Events():
			if !open {
				return nil
			}
			if ev.Seq <= lastSeq {
				continue
			}
			if ev.Seq > lastSeq+1 {
				// The subscriber fell behind the bus: recover from the log.
				done, err := s.sendFromLog(taskID, &lastSeq, send)
				if err != nil || done {
					return err
				}
				continue
			}
			if err := send(ev); err != nil {
				return err
			}
			lastSeq = ev.Seq
			if terminalEvent(ev) {
				return nil
			}
		case <-ticker.C:
			if err := keepalive(); err != nil {
				return nil
			}
		}
	}
}

// sendFromLog delivers every persisted event past *lastSeq, advancing
// *lastSeq as it goes. Returns true after a terminal status event.
func (s *Server) sendFromLog(taskID string, lastSeq *int64, send func(*models.Event) error) (bool, error) {
	events, err := s.store.ListEventsAfter(taskID, *lastSeq, 0)
	if err != nil {
		return false, fmt.Errorf("read event log: %w", err)
	}
	for i := range events {
		ev := &events[i]
		if err := send(ev); err != nil {
			return false, err
		}
		*lastSeq = ev.Seq
		if terminalEvent(ev) {
			return true, nil
		}
	}
	return false, nil
}

// terminalEvent reports whether the event announces a terminal status.
func terminalEvent(ev *models.Event) bool {
	if ev.Kind != models.EventStatus {
		return false
	}
	var p models.StatusPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false
	}
	return p.Status.Terminal()
}
