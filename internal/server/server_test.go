package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/gravity/internal/bus"
	"github.com/antigravity-dev/gravity/internal/knowledge"
	"github.com/antigravity-dev/gravity/internal/repotree"
	"github.com/antigravity-dev/gravity/internal/state"
	"github.com/antigravity-dev/gravity/pkg/models"
)

// fakeScheduler records scheduling calls and applies the cancel contract
// against the store the way the orchestrator would.
type fakeScheduler struct {
	mu        sync.Mutex
	store     state.Store
	enqueued  []string
	cancelled []string
}

func (f *fakeScheduler) Enqueue(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, taskID)
}

func (f *fakeScheduler) Cancel(taskID string) (bool, error) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, taskID)
	f.mu.Unlock()

	applied, err := f.store.FailTask(taskID, models.ErrKindCancelled, "cancelled by operator", time.Now())
	if err != nil {
		return false, err
	}
	children, err := f.store.ListTasksByParent(taskID)
	if err != nil {
		return applied, err
	}
	for i := range children {
		if children[i].Status.Terminal() {
			continue
		}
		if _, err := f.store.FailTask(children[i].ID, models.ErrKindParentCancelled, "ancestor task cancelled", time.Now()); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (f *fakeScheduler) enqueuedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.enqueued...)
}

func (f *fakeScheduler) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type serverRig struct {
	t     *testing.T
	store *state.DB
	bus   *bus.MemoryBus
	sched *fakeScheduler
	notes *knowledge.Store
	srv   *Server
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()
	dir := t.TempDir()

	store, err := state.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	notes, err := knowledge.NewStore(filepath.Join(dir, "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })

	b := bus.NewMemory(64)
	t.Cleanup(func() { _ = b.Close() })

	trees, err := repotree.NewCache(8)
	require.NoError(t, err)

	sched := &fakeScheduler{store: store}
	srv := New(Options{
		Store:     store,
		Bus:       b,
		Scheduler: sched,
		Knowledge: notes,
		Trees:     trees,
	})
	return &serverRig{t: t, store: store, bus: b, sched: sched, notes: notes, srv: srv}
}

// do runs one request through the router and returns the recorder.
func (r *serverRig) do(method, path string, body any) *httptest.ResponseRecorder {
	r.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(r.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.srv.Handler().ServeHTTP(w, req)
	return w
}

func (r *serverRig) seedRepo() *models.Repository {
	r.t.Helper()
	now := time.Now().UTC()
	repo := &models.Repository{
		ID:                 uuid.New().String(),
		Name:               "widget",
		Path:               r.t.TempDir(),
		Kind:               models.RepoKindGo,
		DefaultTestCommand: "go test ./...",
		CreatedAt:          now,
	}
	require.NoError(r.t, r.store.CreateRepository(repo))
	return repo
}

func (r *serverRig) seedTask(repoID, parentID string, status models.TaskStatus) *models.Task {
	r.t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		ParentID:    parentID,
		RepoID:      repoID,
		UserRequest: "add a greeting endpoint",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if parentID != "" {
		task.Depth = 1
	}
	require.NoError(r.t, r.store.CreateTask(task))
	return task
}

func (r *serverRig) appendEvent(taskID string, kind models.EventKind, payload any) *models.Event {
	r.t.Helper()
	ev, err := r.store.AppendEvent(taskID, kind, payload, time.Now())
	require.NoError(r.t, err)
	return ev
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
}
