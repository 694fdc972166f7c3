package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies a task event on the stream and in the event log.
type EventKind string

const (
	// EventStatus announces a task status change.
	EventStatus EventKind = "status"
	// EventPlanReady announces that the planner produced a plan.
	EventPlanReady EventKind = "plan_ready"
	// EventAgentLog carries a completed agent run summary.
	EventAgentLog EventKind = "agent_log"
	// EventFileVerified announces a verified file effect.
	EventFileVerified EventKind = "file_verified"
	// EventComplete announces terminal success.
	EventComplete EventKind = "complete"
	// EventError announces terminal failure.
	EventError EventKind = "error"
)

// Valid returns true if the kind is a known value.
func (k EventKind) Valid() bool {
	switch k {
	case EventStatus, EventPlanReady, EventAgentLog, EventFileVerified, EventComplete, EventError:
		return true
	default:
		return false
	}
}

// Event is one entry in a task's ordered event log. Seq is allocated in the
// same transaction that persists the event, so (TaskID, Seq) is a gapless
// per-task ordering that consumers can deduplicate and resume on.
type Event struct {
	// TaskID is the task the event belongs to.
	TaskID string `json:"task_id"`
	// Seq is the per-task monotonic sequence number, starting at 1.
	Seq int64 `json:"seq"`
	// Kind classifies the payload.
	Kind EventKind `json:"kind"`
	// Payload is the kind-specific JSON body.
	Payload json.RawMessage `json:"payload"`
	// CreatedAt is when the event was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// StatusPayload is the body of an EventStatus event.
type StatusPayload struct {
	// Status is the task's new status.
	Status TaskStatus `json:"status"`
	// Step is the current plan step, when executing.
	Step int `json:"step,omitempty"`
}

// PlanReadyPayload is the body of an EventPlanReady event.
type PlanReadyPayload struct {
	// Title is the planner's display title for the task.
	Title string `json:"title,omitempty"`
	// Summary is the plan's one-paragraph approach.
	Summary string `json:"summary"`
	// Steps is the number of plan steps.
	Steps int `json:"steps"`
	// Confidence is the planner's self-reported score in [0,1].
	Confidence float64 `json:"confidence_score"`
	// RequiresReview is set when the plan awaits human approval.
	RequiresReview bool `json:"requires_review"`
}

// ErrorPayload is the body of an EventError event.
type ErrorPayload struct {
	// Kind is the stable failure category.
	Kind ErrorKind `json:"kind"`
	// Message is the human-readable description.
	Message string `json:"message"`
}

// CompletePayload is the body of an EventComplete event.
type CompletePayload struct {
	// Title is the task's final display title.
	Title string `json:"title,omitempty"`
	// FilesVerified counts the verified file effects recorded by the task.
	FilesVerified int `json:"files_verified"`
}

// FileAction is the kind of filesystem effect a tool performed.
type FileAction string

const (
	// FileActionCreate indicates a new file was written.
	FileActionCreate FileAction = "create"
	// FileActionEdit indicates an existing file was modified.
	FileActionEdit FileAction = "edit"
	// FileActionDelete indicates a file was removed.
	FileActionDelete FileAction = "delete"
)

// Valid returns true if the action is a known value.
func (a FileAction) Valid() bool {
	switch a {
	case FileActionCreate, FileActionEdit, FileActionDelete:
		return true
	default:
		return false
	}
}

// VerifiedFileEvent records a filesystem effect that was re-read and
// confirmed on disk after the tool reported success. Only verified effects
// appear on the stream and in the ledger.
type VerifiedFileEvent struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// TaskID is the task whose agent performed the action.
	TaskID string `json:"task_id"`
	// RunID is the agent run during which the action happened, if known.
	RunID string `json:"run_id,omitempty"`
	// Path is the repository-relative path that was affected.
	Path string `json:"path"`
	// Action is the kind of effect.
	Action FileAction `json:"action"`
	// SizeBytes is the verified on-disk size, 0 for deletes.
	SizeBytes int64 `json:"size_bytes"`
	// SHA256 is the hex digest of the verified content, empty for deletes.
	SHA256 string `json:"sha256,omitempty"`
	// QualityWarnings lists non-fatal content findings from verification.
	QualityWarnings []string `json:"quality_warnings,omitempty"`
	// CreatedAt is when the verification was recorded.
	CreatedAt time.Time `json:"created_at"`
}
