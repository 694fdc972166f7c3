package models

import "time"

// TaskStatus represents the current state of a task in the pipeline.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusPlanning indicates the planner agent is decomposing the request.
	TaskStatusPlanning TaskStatus = "planning"
	// TaskStatusPlanReview indicates the plan awaits human approval.
	TaskStatusPlanReview TaskStatus = "plan_review"
	// TaskStatusExecuting indicates coder agents are applying plan steps.
	TaskStatusExecuting TaskStatus = "executing"
	// TaskStatusTesting indicates the QA agent is running tests.
	TaskStatusTesting TaskStatus = "testing"
	// TaskStatusDocumenting indicates the docs agent is updating documentation.
	TaskStatusDocumenting TaskStatus = "documenting"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task terminated with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusPaused indicates the task was suspended by an operator.
	TaskStatusPaused TaskStatus = "paused"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusPlanning, TaskStatusPlanReview,
		TaskStatusExecuting, TaskStatusTesting, TaskStatusDocumenting,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Running returns true for statuses in which a worker owns the task and
// must maintain a heartbeat.
func (s TaskStatus) Running() bool {
	switch s {
	case TaskStatusPlanning, TaskStatusExecuting, TaskStatusTesting, TaskStatusDocumenting:
		return true
	default:
		return false
	}
}

// ErrorKind is a stable machine-readable failure category carried alongside
// the human-readable error message.
type ErrorKind string

const (
	// ErrKindCyclicPlan indicates the planner emitted a cyclic dependency graph.
	ErrKindCyclicPlan ErrorKind = "cyclic_plan"
	// ErrKindInvalidPlan indicates the plan failed structural validation.
	ErrKindInvalidPlan ErrorKind = "invalid_plan"
	// ErrKindRealityMismatch indicates a tool's reported effect was absent on disk.
	ErrKindRealityMismatch ErrorKind = "reality_mismatch"
	// ErrKindPathEscape indicates a tool path resolved outside the repository root.
	ErrKindPathEscape ErrorKind = "path_escape"
	// ErrKindUnsafeCommand indicates a shell command matched the blocklist.
	ErrKindUnsafeCommand ErrorKind = "unsafe_command"
	// ErrKindLeaseExpired indicates the worker heartbeat lapsed past the lease.
	ErrKindLeaseExpired ErrorKind = "lease_expired"
	// ErrKindCancelled indicates the task was cancelled by an operator.
	ErrKindCancelled ErrorKind = "cancelled"
	// ErrKindParentCancelled indicates an ancestor task was cancelled.
	ErrKindParentCancelled ErrorKind = "parent_cancelled"
	// ErrKindMaxIterations indicates the agent loop exceeded its iteration budget.
	ErrKindMaxIterations ErrorKind = "max_iterations"
	// ErrKindInvalidOutput indicates the agent returned unparseable output.
	ErrKindInvalidOutput ErrorKind = "invalid_output"
	// ErrKindAgentFailed indicates a generic agent-layer failure.
	ErrKindAgentFailed ErrorKind = "agent_failed"
	// ErrKindTimeout indicates a phase or tool exceeded its deadline.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindFixBudget indicates the fix loop exhausted its retry budget.
	ErrKindFixBudget ErrorKind = "fix_budget_exhausted"
	// ErrKindPlanRejected indicates an operator rejected the plan.
	ErrKindPlanRejected ErrorKind = "plan_rejected"
)

// AgentRole identifies the specialist persona driving a pipeline phase.
type AgentRole string

const (
	// RolePlanner decomposes the request into a plan. Read-only tools.
	RolePlanner AgentRole = "planner"
	// RoleCoderBackend implements backend changes.
	RoleCoderBackend AgentRole = "coder_be"
	// RoleCoderFrontend implements frontend changes.
	RoleCoderFrontend AgentRole = "coder_fe"
	// RoleCoderInfra implements infrastructure changes and new documentation files.
	RoleCoderInfra AgentRole = "coder_infra"
	// RoleQA runs tests and diagnoses failures.
	RoleQA AgentRole = "qa"
	// RoleDocs updates existing documentation. Edit-only tools.
	RoleDocs AgentRole = "docs"
	// RoleSystem marks synthetic runs recorded by the engine itself.
	RoleSystem AgentRole = "system"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RolePlanner, RoleCoderBackend, RoleCoderFrontend, RoleCoderInfra, RoleQA, RoleDocs, RoleSystem:
		return true
	default:
		return false
	}
}

// Coder returns true for the coder specializations.
func (r AgentRole) Coder() bool {
	return r == RoleCoderBackend || r == RoleCoderFrontend || r == RoleCoderInfra
}

// Task is the unit of work: a free-text request against a repository,
// driven through plan, execute, test, and document phases.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the parent task for fix children, empty for roots.
	ParentID string `json:"parent_id,omitempty"`
	// RepoID identifies the repository the task operates on.
	RepoID string `json:"repo_id"`
	// UserRequest is the free-text engineering request.
	UserRequest string `json:"user_request"`
	// Title is an optional human-friendly summary.
	Title string `json:"title,omitempty"`
	// Status is the current pipeline state.
	Status TaskStatus `json:"status"`
	// CurrentRole is the agent role driving the current phase, if any.
	CurrentRole AgentRole `json:"current_role,omitempty"`
	// CurrentStep is the 1-indexed plan step being executed (0 before execution).
	CurrentStep int `json:"current_step"`
	// Plan is the planner's decomposition, nil until planning completes.
	Plan *Plan `json:"plan,omitempty"`
	// RetryCount counts fix-loop rounds consumed by this task.
	RetryCount int `json:"retry_count"`
	// Depth is the fix-chain depth: 0 for roots, parent depth + 1 for children.
	Depth int `json:"depth"`
	// ReviewRequired is set when an agent outcome demands human review.
	ReviewRequired bool `json:"review_required"`
	// ErrorKind is the stable failure category when Status is failed.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// ErrorMessage is the human-readable failure description.
	ErrorMessage string `json:"error_message,omitempty"`
	// PausedFrom records the status to restore on resume.
	PausedFrom TaskStatus `json:"paused_from,omitempty"`
	// Heartbeat is the worker's last liveness write; stale heartbeats
	// trigger lease reclamation.
	Heartbeat time.Time `json:"heartbeat"`
	// TokensIn counts prompt tokens consumed across all agent runs.
	TokensIn int64 `json:"tokens_in"`
	// TokensOut counts completion tokens across all agent runs.
	TokensOut int64 `json:"tokens_out"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Root returns true if the task has no parent.
func (t *Task) Root() bool {
	return t.ParentID == ""
}
