package models

import "time"

// ToolInvocation records one tool call an agent made during a run.
type ToolInvocation struct {
	// Name is the registered tool name.
	Name string `json:"name"`
	// Args is the JSON-encoded argument object passed to the tool.
	Args string `json:"args"`
	// Result is a truncated copy of the tool's result payload.
	Result string `json:"result,omitempty"`
	// IsError is set when the tool returned a structured error.
	IsError bool `json:"is_error,omitempty"`
	// DurationMS is the wall-clock execution time of the tool.
	DurationMS int64 `json:"duration_ms"`
}

// AgentRun is the persisted record of one agent invocation: the structured
// output the agent produced plus accounting for the tools and tokens it used.
// The engine also writes synthetic runs with RoleSystem and StepOrder -1 to
// surface failures that happened outside any agent.
type AgentRun struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// TaskID is the task this run belongs to.
	TaskID string `json:"task_id"`
	// StepOrder is the plan step the run executed, -1 for synthetic runs.
	StepOrder int `json:"step_order"`
	// Role is the agent persona that produced the run.
	Role AgentRole `json:"role"`
	// UITitle is a short display headline for the run.
	UITitle string `json:"ui_title"`
	// UISubtitle is a one-line elaboration of the headline.
	UISubtitle string `json:"ui_subtitle,omitempty"`
	// Reasoning is the agent's technical explanation of what it did.
	Reasoning string `json:"technical_reasoning,omitempty"`
	// ToolCalls are the tool invocations made during the run, in order.
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
	// Confidence is the agent's self-reported score in [0,1].
	Confidence float64 `json:"confidence_score"`
	// RequiresReview is set when the agent asks for human review.
	RequiresReview bool `json:"requires_review"`
	// TokensIn counts prompt tokens for the run.
	TokensIn int64 `json:"tokens_in"`
	// TokensOut counts completion tokens for the run.
	TokensOut int64 `json:"tokens_out"`
	// CreatedAt is when the run was recorded.
	CreatedAt time.Time `json:"created_at"`
}
