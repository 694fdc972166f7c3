package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/gravity/pkg/models"
)

type sseFrame struct {
	id    string
	event string
	data  string
}

// readFrames parses SSE frames off the reader until want frames arrived or
// the stream ended. Keepalive comments are skipped.
func readFrames(t *testing.T, r io.Reader, want int) []sseFrame {
	t.Helper()
	scanner := bufio.NewScanner(r)
	var frames []sseFrame
	var cur sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur != (sseFrame{}) {
				frames = append(frames, cur)
				cur = sseFrame{}
				if len(frames) == want {
					return frames
				}
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestStreamReplaysThenFollowsLive(t *testing.T) {
	rig := newServerRig(t)
	repo := rig.seedRepo()
	task := rig.seedTask(repo.ID, "", models.TaskStatusExecuting)
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusPlanning})
	rig.appendEvent(task.ID, models.EventAgentLog, map[string]any{"ui_title": "Planned the work"})

	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream/task/" + task.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish the terminal event repeatedly until the stream picks it up.
	// Seq dedupe means the client still sees it exactly once, whether it
	// lands in the replay or on the live feed.
	final := rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusCompleted})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = rig.bus.Publish(context.Background(), final)
			}
		}
	}()
	defer wg.Wait()
	defer close(stop)

	frames := readFrames(t, resp.Body, 3)
	require.Len(t, frames, 3)
	assert.Equal(t, "1", frames[0].id)
	assert.Equal(t, "status", frames[0].event)
	assert.Equal(t, "2", frames[1].id)
	assert.Equal(t, "agent_log", frames[1].event)
	assert.Equal(t, "3", frames[2].id)
	assert.Equal(t, "status", frames[2].event)

	var ev models.Event
	require.NoError(t, json.Unmarshal([]byte(frames[2].data), &ev))
	assert.Equal(t, task.ID, ev.TaskID)
	assert.Equal(t, int64(3), ev.Seq)

	// The stream closed after the terminal status event.
	rest := readFrames(t, resp.Body, 1)
	assert.Empty(t, rest)
}

func TestStreamResumesFromLastSeen(t *testing.T) {
	rig := newServerRig(t)
	repo := rig.seedRepo()
	task := rig.seedTask(repo.ID, "", models.TaskStatusFailed)
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusPlanning})
	rig.appendEvent(task.ID, models.EventError, models.ErrorPayload{Kind: models.ErrKindAgentFailed, Message: "planner returned no plan"})
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusFailed})

	// Replay ends at the terminal event, so the handler returns and the
	// recorder holds the whole stream.
	req := httptest.NewRequest(http.MethodGet, "/stream/task/"+task.ID, nil)
	req.Header.Set("Last-Event-ID", "2")
	w := httptest.NewRecorder()
	rig.srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	frames := readFrames(t, w.Body, 10)
	require.Len(t, frames, 1)
	assert.Equal(t, "3", frames[0].id)

	w = rig.do(http.MethodGet, "/stream/task/"+task.ID+"?after_seq=1", nil)
	frames = readFrames(t, w.Body, 10)
	require.Len(t, frames, 2)
	assert.Equal(t, "2", frames[0].id)
	assert.Equal(t, "3", frames[1].id)
}

func TestStreamValidation(t *testing.T) {
	rig := newServerRig(t)
	repo := rig.seedRepo()
	task := rig.seedTask(repo.ID, "", models.TaskStatusPending)

	w := rig.do(http.MethodGet, "/stream/task/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.do(http.MethodGet, "/stream/task/"+task.ID+"?after_seq=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketReplay(t *testing.T) {
	rig := newServerRig(t)
	repo := rig.seedRepo()
	task := rig.seedTask(repo.ID, "", models.TaskStatusCompleted)
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusPlanning})
	rig.appendEvent(task.ID, models.EventComplete, models.CompletePayload{Title: "Added the endpoint", FilesVerified: 2})
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusCompleted})

	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/task/" + task.ID

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var seqs []int64
	for {
		var ev models.Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "read: %v", err)
			break
		}
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestWebSocketResumesAfterSeq(t *testing.T) {
	rig := newServerRig(t)
	repo := rig.seedRepo()
	task := rig.seedTask(repo.ID, "", models.TaskStatusCompleted)
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusPlanning})
	rig.appendEvent(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusCompleted})

	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/task/" + task.ID + "?after_seq=1"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, int64(2), ev.Seq)

	err = conn.ReadJSON(&ev)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "read: %v", err)
}
