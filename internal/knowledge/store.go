// Package knowledge persists the shared blackboard: short notes agents
// leave for later agents working the same task tree.
package knowledge

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// Note is one blackboard entry, keyed by the root task of the tree that
// produced it.
type Note struct {
	ID        string
	RootID    string
	TaskID    string
	Role      models.AgentRole
	Note      string
	CreatedAt time.Time
}

// Store manages blackboard notes in a standalone database file, separate
// from the task state store.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the blackboard database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_notes (
			id TEXT PRIMARY KEY,
			root_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			role TEXT NOT NULL,
			note TEXT NOT NULL,
			created_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_notes_root ON knowledge_notes(root_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddNote records a note under the tree rooted at rootID.
func (s *Store) AddNote(rootID, taskID string, role models.AgentRole, note string) error {
	if note == "" {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_notes (id, root_id, task_id, role, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), rootID, taskID, string(role), note, time.Now())
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// Notes returns the note texts for a tree in the order they were written.
func (s *Store) Notes(rootID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT note FROM knowledge_notes
		WHERE root_id = ?
		ORDER BY rowid
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListNotes returns the full note records for a tree in write order.
func (s *Store) ListNotes(rootID string) ([]Note, error) {
	rows, err := s.db.Query(`
		SELECT id, root_id, task_id, role, note, created_at
		FROM knowledge_notes
		WHERE root_id = ?
		ORDER BY rowid
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var role string
		if err := rows.Scan(&n.ID, &n.RootID, &n.TaskID, &role, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Role = models.AgentRole(role)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteByTasks removes every note written by the given tasks. Called after
// a task tree is deleted from the state store.
func (s *Store) DeleteByTasks(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(taskIDs)), ", ")
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM knowledge_notes WHERE task_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	return nil
}
