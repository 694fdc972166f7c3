package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// unsafePatterns are substrings that refuse a command outright. The
// sandbox is the repository working directory, not a container, so the
// obvious foot-guns are blocked before exec.
var unsafePatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"mkfs",
	"dd if=",
	":(){",
	"chmod -R 777 /",
	"> /dev/sd",
	"shutdown",
	"reboot",
	"sudo ",
}

// CommandRunner executes shell commands inside the repository root.
type CommandRunner struct {
	policy         *Policy
	defaultTimeout time.Duration
}

// NewCommandRunner creates a runner whose commands default to timeout
// when the caller does not pass one.
func NewCommandRunner(policy *Policy, defaultTimeout time.Duration) *CommandRunner {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &CommandRunner{policy: policy, defaultTimeout: defaultTimeout}
}

// RunCommandTool returns the run_command tool definition.
func (cr *CommandRunner) RunCommandTool() *Tool {
	return &Tool{
		Name:        ToolRunCommand,
		Description: "Run a shell command in the repository root. Output combines stdout and stderr.",
		Properties: map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Timeout in milliseconds (optional)",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Short human-readable summary of what the command does (optional)",
			},
		},
		Required: []string{"command"},
		Timeout:  cr.defaultTimeout,
		Handler:  cr.runCommand,
	}
}

// CheckCommand refuses commands matching the unsafe patterns.
func CheckCommand(command string) error {
	lowered := strings.ToLower(command)
	for _, pattern := range unsafePatterns {
		if strings.Contains(lowered, pattern) {
			return fmt.Errorf("command refused, matches unsafe pattern %q", pattern)
		}
	}
	return nil
}

func (cr *CommandRunner) runCommand(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Command   string `json:"command"`
		TimeoutMs int    `json:"timeout_ms"`
		// Description is accepted for event labeling but unused here.
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return "", fmt.Errorf("command is required")
	}
	if err := CheckCommand(params.Command); err != nil {
		return "", err
	}

	timeout := cr.defaultTimeout
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
		if timeout > cr.defaultTimeout {
			timeout = cr.defaultTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", params.Command)
	cmd.Dir = cr.policy.Root()

	output, err := cmd.CombinedOutput()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Command timed out after %v", timeout), nil
	}

	result := truncateOutput(string(output))
	if err != nil {
		if result == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return fmt.Sprintf("command failed (%v):\n%s", err, result), nil
	}
	if result == "" {
		return "(no output)", nil
	}
	return result, nil
}
