package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// taskColumns is the column list shared by every task SELECT.
const taskColumns = `id, parent_id, repo_id, user_request, title, status, current_role,
	current_step, plan, retry_count, depth, review_required, error_kind,
	error_message, paused_from, heartbeat, tokens_in, tokens_out,
	created_at, updated_at, completed_at`

// runningStatuses guards heartbeat writes: only a task in one of these states
// has a worker that may refresh its lease.
const runningStatuses = `'planning', 'executing', 'testing', 'documenting'`

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *models.Task) error {
	var plan *string
	if t.Plan != nil {
		raw, err := json.Marshal(t.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
		s := string(raw)
		plan = &s
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, parent_id, repo_id, user_request, title, status,
			current_role, current_step, plan, retry_count, depth, review_required,
			error_kind, error_message, paused_from, heartbeat, tokens_in, tokens_out,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, nullString(t.ParentID), t.RepoID, t.UserRequest, nullString(t.Title),
		string(t.Status), nullString(string(t.CurrentRole)), t.CurrentStep, plan,
		t.RetryCount, t.Depth, boolInt(t.ReviewRequired),
		nullString(string(t.ErrorKind)), nullString(t.ErrorMessage),
		nullString(string(t.PausedFrom)), nullTime(t.Heartbeat),
		t.TokensIn, t.TokensOut, formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nil)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil when the task does not exist.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListRootTasks lists tasks without a parent, newest first.
func (db *DB) ListRootTasks() ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT ` + taskColumns + ` FROM tasks
		WHERE parent_id IS NULL OR parent_id = ''
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list root tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByParent lists the direct children of a task, oldest first.
func (db *DB) ListTasksByParent(parentID string) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE parent_id = ?
		ORDER BY created_at ASC, id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by parent: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByStatus lists tasks in the given status, oldest first so the
// dispatcher serves them FIFO.
func (db *DB) ListTasksByStatus(status models.TaskStatus) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE status = ?
		ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountActiveTasksByRepo counts non-terminal tasks for a repository.
func (db *DB) CountActiveTasksByRepo(repoID string) (int, error) {
	var n int
	row := db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE repo_id = ? AND status NOT IN ('completed', 'failed')
	`, repoID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}

// ListDescendants returns every task below the given one, breadth first.
func (db *DB) ListDescendants(id string) ([]models.Task, error) {
	var out []models.Task
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []string
		for _, pid := range frontier {
			children, err := db.ListTasksByParent(pid)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, c)
				next = append(next, c.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

// TransitionTask performs a compare-and-swap status change. It returns false
// without error when the task was not in the expected status, which callers
// treat as a lost race: re-read and decide again.
func (db *DB) TransitionTask(id string, expected, next models.TaskStatus, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(next), formatTime(now), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	return rowsChanged(res)
}

// StartPhase moves a task into a running phase, records the driving role,
// and primes the heartbeat so the lease starts fresh.
func (db *DB) StartPhase(id string, expected, next models.TaskStatus, role models.AgentRole, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, current_role = ?, heartbeat = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(next), string(role), formatTime(now), formatTime(now), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("start phase: %w", err)
	}
	return rowsChanged(res)
}

// CompleteTask moves a task to completed and stamps the completion time.
func (db *DB) CompleteTask(id string, expected models.TaskStatus, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status = 'completed', current_role = NULL,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, formatTime(now), formatTime(now), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return rowsChanged(res)
}

// FailTask moves any non-terminal task to failed with an error kind and
// message. Returns false if the task was already terminal.
func (db *DB) FailTask(id string, kind models.ErrorKind, msg string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status = 'failed', current_role = NULL,
			error_kind = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`, string(kind), msg, formatTime(now), formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	return rowsChanged(res)
}

// PauseTask suspends a non-terminal task, recording the status it was in so
// resume can pick the right phase back up. One statement, so the record of
// the prior status can never drift from the swap itself.
func (db *DB) PauseTask(id string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET paused_from = status, status = 'paused', updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'paused')
	`, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("pause task: %w", err)
	}
	return rowsChanged(res)
}

// ResumeTask restores the status recorded at pause time and consumes the
// marker. The RHS reads the pre-update row, so restore and clear cannot
// drift apart.
func (db *DB) ResumeTask(id string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET status = COALESCE(paused_from, 'pending'),
			paused_from = NULL, updated_at = ?
		WHERE id = ? AND status = 'paused'
	`, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("resume task: %w", err)
	}
	return rowsChanged(res)
}

// HeartbeatTask refreshes the worker lease. Returns false when the task is no
// longer in a running status, which tells the worker it has lost ownership
// and must stop.
func (db *DB) HeartbeatTask(id string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks SET heartbeat = ?
		WHERE id = ? AND status IN (`+runningStatuses+`)
	`, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}
	return rowsChanged(res)
}

// StaleRunningTasks returns running tasks whose heartbeat predates the
// cutoff. The sweeper fails these as lease_expired.
func (db *DB) StaleRunningTasks(cutoff time.Time) ([]models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN (`+runningStatuses+`)
		AND (heartbeat IS NULL OR heartbeat < ?)
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("stale running tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SetTaskPlan stores the plan and derived title while the task is still
// planning. Returns false if the task left planning in the meantime.
func (db *DB) SetTaskPlan(id string, plan *models.Plan, title string, now time.Time) (bool, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return false, fmt.Errorf("marshal plan: %w", err)
	}
	res, err := db.Exec(`
		UPDATE tasks SET plan = ?, title = ?, updated_at = ?
		WHERE id = ? AND status = 'planning'
	`, string(raw), title, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("set task plan: %w", err)
	}
	return rowsChanged(res)
}

// SetTaskStep records the plan step and role currently executing.
func (db *DB) SetTaskStep(id string, step int, role models.AgentRole, now time.Time) error {
	_, err := db.Exec(`
		UPDATE tasks SET current_step = ?, current_role = ?, updated_at = ?
		WHERE id = ?
	`, step, string(role), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("set task step: %w", err)
	}
	return nil
}

// SetTaskReview flips the human-review flag.
func (db *DB) SetTaskReview(id string, required bool, now time.Time) error {
	_, err := db.Exec(`
		UPDATE tasks SET review_required = ?, updated_at = ?
		WHERE id = ?
	`, boolInt(required), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("set task review: %w", err)
	}
	return nil
}

// IncrementTaskRetry bumps the fix-loop counter and returns the new value.
func (db *DB) IncrementTaskRetry(id string) (int, error) {
	var count int
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE tasks SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("increment retry: %w", err)
		}
		row := tx.QueryRow(`SELECT retry_count FROM tasks WHERE id = ?`, id)
		return row.Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddTaskTokens accumulates token usage onto the task totals.
func (db *DB) AddTaskTokens(id string, tokensIn, tokensOut int64) error {
	_, err := db.Exec(`
		UPDATE tasks SET tokens_in = tokens_in + ?, tokens_out = tokens_out + ?
		WHERE id = ?
	`, tokensIn, tokensOut, id)
	if err != nil {
		return fmt.Errorf("add task tokens: %w", err)
	}
	return nil
}

// DeleteTaskCascade removes a task, all its descendants, and every row that
// hangs off them: agent runs, verified file events, and the event logs.
// Returns the IDs of the deleted tasks, the target first.
func (db *DB) DeleteTaskCascade(id string) ([]string, error) {
	descendants, err := db.ListDescendants(id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(descendants)+1)
	ids = append(ids, id)
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}

	err = db.Transaction(func(tx *sql.Tx) error {
		for _, tid := range ids {
			for _, stmt := range []string{
				`DELETE FROM task_events WHERE task_id = ?`,
				`DELETE FROM verified_file_events WHERE task_id = ?`,
				`DELETE FROM agent_runs WHERE task_id = ?`,
				`DELETE FROM tasks WHERE id = ?`,
			} {
				if _, err := tx.Exec(stmt, tid); err != nil {
					return fmt.Errorf("cascade delete %s: %w", tid, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// scanTask scans a single task row.
func scanTask(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var parentID, title, currentRole, plan, errorKind, errorMessage, pausedFrom sql.NullString
	var heartbeat, completedAt sql.NullString
	var reviewRequired int
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &parentID, &t.RepoID, &t.UserRequest, &title, &t.Status,
		&currentRole, &t.CurrentStep, &plan, &t.RetryCount, &t.Depth, &reviewRequired,
		&errorKind, &errorMessage, &pausedFrom, &heartbeat, &t.TokensIn, &t.TokensOut,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	fillTask(&t, parentID, title, currentRole, plan, errorKind, errorMessage,
		pausedFrom, heartbeat, reviewRequired, createdAt, updatedAt, completedAt)
	return &t, nil
}

// scanTasks scans task rows into a slice.
func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var parentID, title, currentRole, plan, errorKind, errorMessage, pausedFrom sql.NullString
		var heartbeat, completedAt sql.NullString
		var reviewRequired int
		var createdAt, updatedAt string

		err := rows.Scan(&t.ID, &parentID, &t.RepoID, &t.UserRequest, &title, &t.Status,
			&currentRole, &t.CurrentStep, &plan, &t.RetryCount, &t.Depth, &reviewRequired,
			&errorKind, &errorMessage, &pausedFrom, &heartbeat, &t.TokensIn, &t.TokensOut,
			&createdAt, &updatedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		fillTask(&t, parentID, title, currentRole, plan, errorKind, errorMessage,
			pausedFrom, heartbeat, reviewRequired, createdAt, updatedAt, completedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func fillTask(t *models.Task, parentID, title, currentRole, plan, errorKind, errorMessage,
	pausedFrom, heartbeat sql.NullString, reviewRequired int, createdAt, updatedAt string,
	completedAt sql.NullString) {
	if parentID.Valid {
		t.ParentID = parentID.String
	}
	if title.Valid {
		t.Title = title.String
	}
	if currentRole.Valid {
		t.CurrentRole = models.AgentRole(currentRole.String)
	}
	if plan.Valid && plan.String != "" {
		var p models.Plan
		if err := json.Unmarshal([]byte(plan.String), &p); err == nil {
			t.Plan = &p
		}
	}
	if errorKind.Valid {
		t.ErrorKind = models.ErrorKind(errorKind.String)
	}
	if errorMessage.Valid {
		t.ErrorMessage = errorMessage.String
	}
	if pausedFrom.Valid {
		t.PausedFrom = models.TaskStatus(pausedFrom.String)
	}
	if hb := parseNullableTime(heartbeat); hb != nil {
		t.Heartbeat = *hb
	}
	t.ReviewRequired = reviewRequired != 0
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
}

// rowsChanged reports whether an UPDATE touched a row.
func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// nullString maps "" to NULL for storage.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime maps the zero time to NULL for storage.
func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

// boolInt maps a bool onto the 0/1 SQLite convention.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
