package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

func TestAppendEvent_SeqMonotonicPerTask(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		ev, err := db.AppendEvent("task-a", models.EventStatus,
			models.StatusPayload{Status: models.TaskStatusPlanning}, now)
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if ev.Seq != int64(i) {
			t.Errorf("seq = %d, want %d", ev.Seq, i)
		}
	}

	// A different task gets its own sequence
	ev, err := db.AppendEvent("task-b", models.EventStatus,
		models.StatusPayload{Status: models.TaskStatusPlanning}, now)
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if ev.Seq != 1 {
		t.Errorf("task-b seq = %d, want 1", ev.Seq)
	}
}

func TestAppendEvent_PayloadRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	payload := models.ErrorPayload{Kind: models.ErrKindTimeout, Message: "too slow"}
	if _, err := db.AppendEvent("task-a", models.EventError, payload, now); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := db.ListEventsAfter("task-a", 0, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != models.EventError {
		t.Errorf("kind = %q, want error", events[0].Kind)
	}

	var got models.ErrorPayload
	if err := json.Unmarshal(events[0].Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Kind != models.ErrKindTimeout || got.Message != "too slow" {
		t.Errorf("payload = %+v", got)
	}
}

func TestListEventsAfter(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, err := db.AppendEvent("task-a", models.EventAgentLog, map[string]int{"i": i}, now); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	// Resume after seq 2
	events, err := db.ListEventsAfter("task-a", 2, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Errorf("seqs = [%d..%d], want [3..5]", events[0].Seq, events[2].Seq)
	}

	// Limit caps the page
	events, err = db.ListEventsAfter("task-a", 0, 2)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events with limit 2, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("seqs = [%d, %d], want [1, 2]", events[0].Seq, events[1].Seq)
	}
}

func TestLastEventSeq(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	seq, err := db.LastEventSeq("empty")
	if err != nil {
		t.Fatalf("LastEventSeq failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0 for empty log", seq)
	}

	for i := 0; i < 3; i++ {
		if _, err := db.AppendEvent("task-a", models.EventAgentLog, nil, now); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	seq, err = db.LastEventSeq("task-a")
	if err != nil {
		t.Fatalf("LastEventSeq failed: %v", err)
	}
	if seq != 3 {
		t.Errorf("seq = %d, want 3", seq)
	}
}
