package agent

import (
	"strings"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// Status is the terminal state of one agent invocation.
type Status string

const (
	// StatusOK means the agent returned a parseable structured result.
	StatusOK Status = "ok"
	// StatusFailed means the invocation failed at the agent layer.
	StatusFailed Status = "failed"
)

// TestStatus is the QA agent's semantic classification of a test command.
type TestStatus string

const (
	// TestPassed means tests ran and all passed.
	TestPassed TestStatus = "passed"
	// TestFailed means at least one test failed.
	TestFailed TestStatus = "failed"
	// TestNone means the command succeeded but executed no tests. This is
	// never treated as a pass.
	TestNone TestStatus = "no_tests_executed"
)

// TestReport is the QA agent's structured finding.
type TestReport struct {
	// Status is the semantic result of the test run.
	Status TestStatus `json:"status"`
	// Command is the test command that was executed.
	Command string `json:"command,omitempty"`
	// Diagnostics carries failure excerpts for the fix loop.
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Output is the structured result every agent must return as its final
// message. Role-specific payloads ride alongside the common fields: the
// planner attaches a plan, QA attaches a test report.
type Output struct {
	// UITitle is a short display headline for the run.
	UITitle string `json:"ui_title"`
	// UISubtitle is a one-line elaboration of the headline.
	UISubtitle string `json:"ui_subtitle"`
	// Reasoning is the agent's technical explanation of what it did.
	Reasoning string `json:"technical_reasoning"`
	// Confidence is the agent's self-reported score in [0,1].
	Confidence float64 `json:"confidence_score"`
	// RequiresReview is set when the agent asks for human review.
	RequiresReview bool `json:"requires_review"`
	// Plan is the planner's decomposition.
	Plan *models.Plan `json:"plan,omitempty"`
	// TestReport is the QA agent's finding.
	TestReport *TestReport `json:"test_report,omitempty"`
}

// Outcome is what one agent invocation hands back to the engine: the
// parsed output plus accounting and every verified filesystem effect.
type Outcome struct {
	// Status is ok or failed.
	Status Status
	// ErrorKind is the stable failure category when Status is failed.
	ErrorKind models.ErrorKind
	// ErrorMessage is the human-readable failure description.
	ErrorMessage string
	// Output is the parsed structured result.
	Output Output
	// ToolCalls lists every tool invocation, in order, refused ones included.
	ToolCalls []models.ToolInvocation
	// Events are the verified filesystem effects of the run.
	Events []models.VerifiedFileEvent
	// TokensIn counts prompt tokens across all iterations.
	TokensIn int64
	// TokensOut counts completion tokens across all iterations.
	TokensOut int64
	// Iterations counts model round trips consumed.
	Iterations int
	// Duration is the wall-clock time of the invocation.
	Duration time.Duration
}

// Failed reports whether the invocation failed at the agent layer.
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// noTestMarkers identify runner output that executed zero tests despite a
// zero exit code. Matching is case-insensitive.
var noTestMarkers = []string{
	"collected 0 items",
	"no tests ran",
	"no test files",
	"[no tests to run]",
	"no tests to run",
	"no tests found",
	"0 passed, 0 failed",
}

// ParseTestOutput classifies a test command's combined output. A clean
// exit that ran nothing is reported as TestNone, never as a pass.
func ParseTestOutput(output string, succeeded bool) TestStatus {
	low := strings.ToLower(output)
	for _, marker := range noTestMarkers {
		if strings.Contains(low, marker) {
			return TestNone
		}
	}
	if succeeded {
		return TestPassed
	}
	return TestFailed
}

// clampConfidence forces a model-reported score into [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
