package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestRunner(t *testing.T) (*CommandRunner, *FileTools) {
	t.Helper()
	ft := newTestFileTools(t)
	return NewCommandRunner(ft.policy, 10*time.Second), ft
}

func TestCheckCommand(t *testing.T) {
	safe := []string{
		"go test ./...",
		"ls -la",
		"npm run build",
		"git status",
		"rm -rf node_modules",
	}
	for _, cmd := range safe {
		if err := CheckCommand(cmd); err != nil {
			t.Errorf("CheckCommand(%q) error = %v, want nil", cmd, err)
		}
	}

	unsafe := []string{
		"rm -rf /",
		"sudo rm -rf /tmp/x",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sda1",
		":(){ :|:& };:",
		"shutdown -h now",
	}
	for _, cmd := range unsafe {
		if err := CheckCommand(cmd); err == nil {
			t.Errorf("CheckCommand(%q) = nil, want refusal", cmd)
		}
	}
}

func TestRunCommand(t *testing.T) {
	runner, _ := newTestRunner(t)

	out, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "echo hello",
	}))
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("runCommand() = %q, want hello", out)
	}
}

func TestRunCommand_CombinedOutput(t *testing.T) {
	runner, _ := newTestRunner(t)

	out, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "echo to-stdout; echo to-stderr 1>&2",
	}))
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if !strings.Contains(out, "to-stdout") || !strings.Contains(out, "to-stderr") {
		t.Errorf("runCommand() = %q, want both streams", out)
	}
}

func TestRunCommand_WorkingDirectory(t *testing.T) {
	runner, ft := newTestRunner(t)
	writeFixture(t, ft, "marker.txt", "present")

	out, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "cat marker.txt",
	}))
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if strings.TrimSpace(out) != "present" {
		t.Errorf("runCommand() = %q, want marker content", out)
	}
}

func TestRunCommand_Failure(t *testing.T) {
	runner, _ := newTestRunner(t)

	out, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "echo boom; exit 1",
	}))
	if err != nil {
		t.Fatalf("runCommand() error = %v, want failure folded into output", err)
	}
	if !strings.Contains(out, "command failed") || !strings.Contains(out, "boom") {
		t.Errorf("runCommand() = %q, want failure message with output", out)
	}

	if _, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "exit 3",
	})); err == nil {
		t.Error("runCommand() silent failure = nil error, want error")
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	runner, _ := newTestRunner(t)

	start := time.Now()
	out, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "sleep 5", "timeout_ms": 50,
	}))
	if err != nil {
		t.Fatalf("runCommand() error = %v", err)
	}
	if !strings.Contains(out, "timed out") {
		t.Errorf("runCommand() = %q, want timeout message", out)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("runCommand() took %v, timeout did not fire", elapsed)
	}
}

func TestRunCommand_Refusals(t *testing.T) {
	runner, _ := newTestRunner(t)

	if _, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "sudo reboot",
	})); err == nil {
		t.Error("runCommand(unsafe) = nil error, want refusal")
	}
	if _, err := runner.runCommand(context.Background(), rawArgs(t, map[string]any{
		"command": "   ",
	})); err == nil {
		t.Error("runCommand(blank) = nil error, want error")
	}
}
