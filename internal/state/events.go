package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// AppendEvent allocates the next per-task sequence number and persists the
// event under it, both inside one transaction. The returned event carries
// the allocated Seq; publishing to the bus happens after this commit, so a
// consumer can always re-read anything it missed.
func (db *DB) AppendEvent(taskID string, kind models.EventKind, payload any, now time.Time) (*models.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	ev := &models.Event{
		TaskID:    taskID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: now,
	}

	err = db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?`, taskID)
		if err := row.Scan(&ev.Seq); err != nil {
			return fmt.Errorf("allocate seq: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO task_events (task_id, seq, kind, payload, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, taskID, ev.Seq, string(kind), string(raw), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEventsAfter returns a task's events with seq greater than afterSeq,
// in seq order. Pass 0 to read from the beginning. A limit of 0 means no
// limit.
func (db *DB) ListEventsAfter(taskID string, afterSeq int64, limit int) ([]models.Event, error) {
	query := `
		SELECT task_id, seq, kind, payload, created_at
		FROM task_events WHERE task_id = ? AND seq > ?
		ORDER BY seq ASC
	`
	args := []any{taskID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var payload, createdAt string
		if err := rows.Scan(&ev.TaskID, &ev.Seq, &ev.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt, _ = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastEventSeq returns the highest seq recorded for a task, 0 if none.
func (db *DB) LastEventSeq(taskID string) (int64, error) {
	var seq int64
	row := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM task_events WHERE task_id = ?`, taskID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}
