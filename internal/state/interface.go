// Package state provides SQLite-based persistence for Gravity.
package state

import (
	"io"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	ListRootTasks() ([]models.Task, error)
	ListTasksByParent(parentID string) ([]models.Task, error)
	ListTasksByStatus(status models.TaskStatus) ([]models.Task, error)
	ListDescendants(id string) ([]models.Task, error)
	CountActiveTasksByRepo(repoID string) (int, error)

	TransitionTask(id string, expected, next models.TaskStatus, now time.Time) (bool, error)
	StartPhase(id string, expected, next models.TaskStatus, role models.AgentRole, now time.Time) (bool, error)
	CompleteTask(id string, expected models.TaskStatus, now time.Time) (bool, error)
	FailTask(id string, kind models.ErrorKind, msg string, now time.Time) (bool, error)
	PauseTask(id string, now time.Time) (bool, error)
	ResumeTask(id string, now time.Time) (bool, error)
	HeartbeatTask(id string, now time.Time) (bool, error)
	StaleRunningTasks(cutoff time.Time) ([]models.Task, error)

	SetTaskPlan(id string, plan *models.Plan, title string, now time.Time) (bool, error)
	SetTaskStep(id string, step int, role models.AgentRole, now time.Time) error
	SetTaskReview(id string, required bool, now time.Time) error
	IncrementTaskRetry(id string) (int, error)
	AddTaskTokens(id string, tokensIn, tokensOut int64) error
	DeleteTaskCascade(id string) ([]string, error)
}

// RunStore handles agent run and verified file persistence.
type RunStore interface {
	CreateRun(r *models.AgentRun) error
	GetRun(id string) (*models.AgentRun, error)
	ListRunsByTask(taskID string) ([]models.AgentRun, error)
	CreateVerifiedFileEvent(e *models.VerifiedFileEvent) error
	ListVerifiedFileEvents(taskID string) ([]models.VerifiedFileEvent, error)
	CountVerifiedFileEvents(taskID string) (int, error)
}

// EventStore handles the per-task ordered event log.
type EventStore interface {
	AppendEvent(taskID string, kind models.EventKind, payload any, now time.Time) (*models.Event, error)
	ListEventsAfter(taskID string, afterSeq int64, limit int) ([]models.Event, error)
	LastEventSeq(taskID string) (int64, error)
}

// RepoStore handles repository persistence.
type RepoStore interface {
	CreateRepository(r *models.Repository) error
	GetRepository(id string) (*models.Repository, error)
	GetRepositoryByPath(path string) (*models.Repository, error)
	ListRepositories() ([]models.Repository, error)
	UpdateRepositoryScan(id string, kind models.RepoKind, testCmd string, now time.Time) error
	DeleteRepository(id string) error
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for state persistence.
// This interface allows the engine and server to work with any state backend
// without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	RunStore
	EventStore
	RepoStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store      = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ TaskStore  = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
	_ EventStore = (*DB)(nil)
	_ RepoStore  = (*DB)(nil)
)
