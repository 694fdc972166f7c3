package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"planning is valid", TaskStatusPlanning, true},
		{"plan_review is valid", TaskStatusPlanReview, true},
		{"executing is valid", TaskStatusExecuting, true},
		{"testing is valid", TaskStatusTesting, true},
		{"documenting is valid", TaskStatusDocumenting, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"paused is valid", TaskStatusPaused, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"typo status is invalid", TaskStatus("pendingg"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusPending, false},
		{TaskStatusPlanning, false},
		{TaskStatusPlanReview, false},
		{TaskStatusExecuting, false},
		{TaskStatusTesting, false},
		{TaskStatusDocumenting, false},
		{TaskStatusPaused, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Running(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPlanning, true},
		{TaskStatusExecuting, true},
		{TaskStatusTesting, true},
		{TaskStatusDocumenting, true},
		{TaskStatusPending, false},
		{TaskStatusPlanReview, false},
		{TaskStatusCompleted, false},
		{TaskStatusFailed, false},
		{TaskStatusPaused, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Running(); got != tt.want {
				t.Errorf("TaskStatus(%q).Running() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAgentRole_Valid(t *testing.T) {
	tests := []struct {
		name string
		role AgentRole
		want bool
	}{
		{"planner is valid", RolePlanner, true},
		{"coder_be is valid", RoleCoderBackend, true},
		{"coder_fe is valid", RoleCoderFrontend, true},
		{"coder_infra is valid", RoleCoderInfra, true},
		{"qa is valid", RoleQA, true},
		{"docs is valid", RoleDocs, true},
		{"system is valid", RoleSystem, true},
		{"empty string is invalid", AgentRole(""), false},
		{"unknown role is invalid", AgentRole("reviewer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("AgentRole(%q).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestAgentRole_Coder(t *testing.T) {
	coders := []AgentRole{RoleCoderBackend, RoleCoderFrontend, RoleCoderInfra}
	for _, r := range coders {
		if !r.Coder() {
			t.Errorf("AgentRole(%q).Coder() = false, want true", r)
		}
	}
	others := []AgentRole{RolePlanner, RoleQA, RoleDocs, RoleSystem}
	for _, r := range others {
		if r.Coder() {
			t.Errorf("AgentRole(%q).Coder() = true, want false", r)
		}
	}
}

func TestTask_Root(t *testing.T) {
	root := Task{ID: "task-1"}
	if !root.Root() {
		t.Error("task with empty ParentID should be root")
	}
	child := Task{ID: "task-2", ParentID: "task-1"}
	if child.Root() {
		t.Error("task with ParentID should not be root")
	}
}

func TestTask_DefaultValues(t *testing.T) {
	task := Task{}

	if task.ID != "" {
		t.Errorf("Task.ID default should be empty string, got %q", task.ID)
	}
	if task.ParentID != "" {
		t.Errorf("Task.ParentID default should be empty string, got %q", task.ParentID)
	}
	if task.Status != "" {
		t.Errorf("Task.Status default should be empty string, got %q", task.Status)
	}
	if task.Plan != nil {
		t.Errorf("Task.Plan default should be nil, got %v", task.Plan)
	}
	if task.CompletedAt != nil {
		t.Errorf("Task.CompletedAt default should be nil, got %v", task.CompletedAt)
	}
	if !task.CreatedAt.IsZero() {
		t.Errorf("Task.CreatedAt default should be zero time, got %v", task.CreatedAt)
	}
}

func TestTask_Fields(t *testing.T) {
	now := time.Now()
	completedAt := now.Add(time.Hour)

	task := Task{
		ID:          "task-123",
		ParentID:    "task-456",
		RepoID:      "repo-789",
		UserRequest: "Add request logging to the API server",
		Title:       "Add request logging",
		Status:      TaskStatusExecuting,
		CurrentRole: RoleCoderBackend,
		CurrentStep: 2,
		RetryCount:  1,
		Depth:       1,
		Heartbeat:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &completedAt,
	}

	if task.ID != "task-123" {
		t.Errorf("Task.ID = %q, want %q", task.ID, "task-123")
	}
	if task.ParentID != "task-456" {
		t.Errorf("Task.ParentID = %q, want %q", task.ParentID, "task-456")
	}
	if task.RepoID != "repo-789" {
		t.Errorf("Task.RepoID = %q, want %q", task.RepoID, "repo-789")
	}
	if task.Status != TaskStatusExecuting {
		t.Errorf("Task.Status = %q, want %q", task.Status, TaskStatusExecuting)
	}
	if task.CurrentRole != RoleCoderBackend {
		t.Errorf("Task.CurrentRole = %q, want %q", task.CurrentRole, RoleCoderBackend)
	}
	if task.CurrentStep != 2 {
		t.Errorf("Task.CurrentStep = %d, want 2", task.CurrentStep)
	}
	if task.Depth != 1 {
		t.Errorf("Task.Depth = %d, want 1", task.Depth)
	}
	if !task.Heartbeat.Equal(now) {
		t.Errorf("Task.Heartbeat = %v, want %v", task.Heartbeat, now)
	}
	if task.CompletedAt == nil || !task.CompletedAt.Equal(completedAt) {
		t.Errorf("Task.CompletedAt = %v, want %v", task.CompletedAt, completedAt)
	}
}
