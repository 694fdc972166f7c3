package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// CreateRepository registers a repository. The path is unique; registering
// the same path twice is an error.
func (db *DB) CreateRepository(r *models.Repository) error {
	_, err := db.Exec(`
		INSERT INTO repositories (id, name, path, kind, default_test_command, created_at, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Path, string(r.Kind), nullString(r.DefaultTestCommand),
		formatTime(r.CreatedAt), nil)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

// GetRepository retrieves a repository by ID. Returns nil when absent.
func (db *DB) GetRepository(id string) (*models.Repository, error) {
	row := db.QueryRow(`
		SELECT id, name, path, kind, default_test_command, created_at, scanned_at
		FROM repositories WHERE id = ?
	`, id)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

// GetRepositoryByPath retrieves a repository by its root path.
func (db *DB) GetRepositoryByPath(path string) (*models.Repository, error) {
	row := db.QueryRow(`
		SELECT id, name, path, kind, default_test_command, created_at, scanned_at
		FROM repositories WHERE path = ?
	`, path)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by path: %w", err)
	}
	return r, nil
}

// ListRepositories lists all repositories, newest first.
func (db *DB) ListRepositories() ([]models.Repository, error) {
	rows, err := db.Query(`
		SELECT id, name, path, kind, default_test_command, created_at, scanned_at
		FROM repositories ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var r models.Repository
		var testCmd, scannedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.Kind, &testCmd, &createdAt, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		if testCmd.Valid {
			r.DefaultTestCommand = testCmd.String
		}
		r.CreatedAt, _ = parseTime(createdAt)
		r.ScannedAt = parseNullableTime(scannedAt)
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// UpdateRepositoryScan records the detected project kind and test command.
func (db *DB) UpdateRepositoryScan(id string, kind models.RepoKind, testCmd string, now time.Time) error {
	_, err := db.Exec(`
		UPDATE repositories SET kind = ?, default_test_command = ?, scanned_at = ?
		WHERE id = ?
	`, string(kind), nullString(testCmd), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("update repository scan: %w", err)
	}
	return nil
}

// DeleteRepository removes a repository record. Callers are expected to
// refuse deletion while the repository still has active tasks.
func (db *DB) DeleteRepository(id string) error {
	_, err := db.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	return nil
}

func scanRepository(row *sql.Row) (*models.Repository, error) {
	var r models.Repository
	var testCmd, scannedAt sql.NullString
	var createdAt string
	err := row.Scan(&r.ID, &r.Name, &r.Path, &r.Kind, &testCmd, &createdAt, &scannedAt)
	if err != nil {
		return nil, err
	}
	if testCmd.Valid {
		r.DefaultTestCommand = testCmd.String
	}
	r.CreatedAt, _ = parseTime(createdAt)
	r.ScannedAt = parseNullableTime(scannedAt)
	return &r, nil
}
