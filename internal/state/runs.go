package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// CreateRun persists a completed agent run.
func (db *DB) CreateRun(r *models.AgentRun) error {
	var toolCalls *string
	if len(r.ToolCalls) > 0 {
		raw, err := json.Marshal(r.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		s := string(raw)
		toolCalls = &s
	}

	_, err := db.Exec(`
		INSERT INTO agent_runs (id, task_id, step_order, role, ui_title, ui_subtitle,
			reasoning, tool_calls, confidence, requires_review, tokens_in, tokens_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.StepOrder, string(r.Role), r.UITitle, r.UISubtitle,
		r.Reasoning, toolCalls, r.Confidence, boolInt(r.RequiresReview),
		r.TokensIn, r.TokensOut, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil when the run does not exist.
func (db *DB) GetRun(id string) (*models.AgentRun, error) {
	row := db.QueryRow(`
		SELECT id, task_id, step_order, role, ui_title, ui_subtitle, reasoning,
			tool_calls, confidence, requires_review, tokens_in, tokens_out, created_at
		FROM agent_runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRunsByTask lists a task's runs, oldest first.
func (db *DB) ListRunsByTask(taskID string) ([]models.AgentRun, error) {
	rows, err := db.Query(`
		SELECT id, task_id, step_order, role, ui_title, ui_subtitle, reasoning,
			tool_calls, confidence, requires_review, tokens_in, tokens_out, created_at
		FROM agent_runs WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list runs by task: %w", err)
	}
	defer rows.Close()

	var runs []models.AgentRun
	for rows.Next() {
		var r models.AgentRun
		var uiTitle, uiSubtitle, reasoning, toolCalls sql.NullString
		var requiresReview int
		var createdAt string
		err := rows.Scan(&r.ID, &r.TaskID, &r.StepOrder, &r.Role, &uiTitle, &uiSubtitle,
			&reasoning, &toolCalls, &r.Confidence, &requiresReview,
			&r.TokensIn, &r.TokensOut, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		fillRun(&r, uiTitle, uiSubtitle, reasoning, toolCalls, requiresReview, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row *sql.Row) (*models.AgentRun, error) {
	var r models.AgentRun
	var uiTitle, uiSubtitle, reasoning, toolCalls sql.NullString
	var requiresReview int
	var createdAt string
	err := row.Scan(&r.ID, &r.TaskID, &r.StepOrder, &r.Role, &uiTitle, &uiSubtitle,
		&reasoning, &toolCalls, &r.Confidence, &requiresReview,
		&r.TokensIn, &r.TokensOut, &createdAt)
	if err != nil {
		return nil, err
	}
	fillRun(&r, uiTitle, uiSubtitle, reasoning, toolCalls, requiresReview, createdAt)
	return &r, nil
}

func fillRun(r *models.AgentRun, uiTitle, uiSubtitle, reasoning, toolCalls sql.NullString,
	requiresReview int, createdAt string) {
	if uiTitle.Valid {
		r.UITitle = uiTitle.String
	}
	if uiSubtitle.Valid {
		r.UISubtitle = uiSubtitle.String
	}
	if reasoning.Valid {
		r.Reasoning = reasoning.String
	}
	if toolCalls.Valid && toolCalls.String != "" {
		json.Unmarshal([]byte(toolCalls.String), &r.ToolCalls)
	}
	r.RequiresReview = requiresReview != 0
	r.CreatedAt, _ = parseTime(createdAt)
}

// CreateVerifiedFileEvent persists a verified filesystem effect.
func (db *DB) CreateVerifiedFileEvent(e *models.VerifiedFileEvent) error {
	var warnings *string
	if len(e.QualityWarnings) > 0 {
		raw, err := json.Marshal(e.QualityWarnings)
		if err != nil {
			return fmt.Errorf("marshal quality warnings: %w", err)
		}
		s := string(raw)
		warnings = &s
	}

	_, err := db.Exec(`
		INSERT INTO verified_file_events (id, task_id, run_id, path, action,
			size_bytes, sha256, quality_warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskID, nullString(e.RunID), e.Path, string(e.Action),
		e.SizeBytes, nullString(e.SHA256), warnings, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("create verified file event: %w", err)
	}
	return nil
}

// ListVerifiedFileEvents lists a task's verified effects, oldest first.
func (db *DB) ListVerifiedFileEvents(taskID string) ([]models.VerifiedFileEvent, error) {
	rows, err := db.Query(`
		SELECT id, task_id, run_id, path, action, size_bytes, sha256, quality_warnings, created_at
		FROM verified_file_events WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list verified file events: %w", err)
	}
	defer rows.Close()

	var events []models.VerifiedFileEvent
	for rows.Next() {
		var e models.VerifiedFileEvent
		var runID, sha, warnings sql.NullString
		var createdAt string
		err := rows.Scan(&e.ID, &e.TaskID, &runID, &e.Path, &e.Action,
			&e.SizeBytes, &sha, &warnings, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan verified file event: %w", err)
		}
		if runID.Valid {
			e.RunID = runID.String
		}
		if sha.Valid {
			e.SHA256 = sha.String
		}
		if warnings.Valid && warnings.String != "" {
			json.Unmarshal([]byte(warnings.String), &e.QualityWarnings)
		}
		e.CreatedAt, _ = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountVerifiedFileEvents counts a task's verified effects.
func (db *DB) CountVerifiedFileEvents(taskID string) (int, error) {
	var n int
	row := db.QueryRow(`SELECT COUNT(*) FROM verified_file_events WHERE task_id = ?`, taskID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count verified file events: %w", err)
	}
	return n, nil
}
