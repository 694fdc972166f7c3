package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// maxToolOutput caps tool result content handed back to the model.
const maxToolOutput = 30000

// Effect records one file mutation made through the tool surface.
// The verifier re-reads every effect from disk after the run.
type Effect struct {
	Path   string // repo-relative
	Action models.FileAction
}

// FileTools implements the file manipulation tools for one agent run.
// It tracks which files the run has read, so edits are only accepted on
// files whose current content the model has seen, and records every
// mutation for post-run verification.
type FileTools struct {
	policy *Policy

	mu      sync.Mutex
	reads   map[string]bool
	effects []Effect
}

// NewFileTools creates the file toolset for one run.
func NewFileTools(policy *Policy) *FileTools {
	return &FileTools{
		policy: policy,
		reads:  make(map[string]bool),
	}
}

// Effects returns the file mutations recorded so far, in order.
func (ft *FileTools) Effects() []Effect {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]Effect(nil), ft.effects...)
}

// WasRead reports whether the run has read or written the file.
func (ft *FileTools) WasRead(abs string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.reads[abs]
}

func (ft *FileTools) markRead(abs string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.reads[abs] = true
}

func (ft *FileTools) record(abs string, action models.FileAction) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.effects = append(ft.effects, Effect{Path: ft.policy.Rel(abs), Action: action})
}

// ReadFileTool returns the read_file tool definition.
func (ft *FileTools) ReadFileTool(timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolReadFile,
		Description: "Read a file from the repository. Returns content with line numbers.",
		Properties: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the repository root",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Line number to start reading from (1-indexed, optional)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to read (optional)",
			},
		},
		Required: []string{"path"},
		Timeout:  timeout,
		Handler:  ft.readFile,
	}
}

func (ft *FileTools) readFile(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	abs, err := ft.policy.Resolve(params.Path)
	if err != nil {
		return "", err
	}
	if err := ft.policy.CheckRead(abs); err != nil {
		return "", err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	ft.markRead(abs)

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return "", fmt.Errorf("offset %d is beyond the end of the file (%d lines)", params.Offset, len(lines))
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return truncateOutput(b.String()), nil
}

// WriteFileTool returns the write_file tool definition.
func (ft *FileTools) WriteFileTool(timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolWriteFile,
		Description: "Write content to a file, creating parent directories as needed. Overwrites existing content.",
		Properties: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the repository root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full content to write",
			},
		},
		Required: []string{"path", "content"},
		Timeout:  timeout,
		Handler:  ft.writeFile,
	}
}

func (ft *FileTools) writeFile(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	abs, err := ft.policy.Resolve(params.Path)
	if err != nil {
		return "", err
	}
	if err := ft.policy.CheckWrite(abs); err != nil {
		return "", err
	}

	action := models.FileActionCreate
	if _, err := os.Stat(abs); err == nil {
		action = models.FileActionEdit
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	// A full write means the model knows the content, so edits may follow.
	ft.markRead(abs)
	ft.record(abs, action)

	return fmt.Sprintf("wrote %d bytes to %s", len(params.Content), ft.policy.Rel(abs)), nil
}

// EditFileSnippetTool returns the edit_file_snippet tool definition.
func (ft *FileTools) EditFileSnippetTool(timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolEditFileSnippet,
		Description: "Replace an exact snippet in a file. The file must have been read in this run, and old_snippet must be unique unless replace_all is set.",
		Properties: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the repository root",
			},
			"old_snippet": map[string]any{
				"type":        "string",
				"description": "Exact text to find and replace",
			},
			"new_snippet": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence (default false)",
			},
		},
		Required: []string{"path", "old_snippet", "new_snippet"},
		Timeout:  timeout,
		Handler:  ft.editFileSnippet,
	}
}

func (ft *FileTools) editFileSnippet(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path       string `json:"path"`
		OldSnippet string `json:"old_snippet"`
		NewSnippet string `json:"new_snippet"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	abs, err := ft.policy.Resolve(params.Path)
	if err != nil {
		return "", err
	}
	if err := ft.policy.CheckWrite(abs); err != nil {
		return "", err
	}
	rel := ft.policy.Rel(abs)

	if !ft.WasRead(abs) {
		return "", fmt.Errorf("%s has not been read in this run; call read_file before editing", rel)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	oldContent := string(content)

	count := strings.Count(oldContent, params.OldSnippet)
	if count == 0 {
		return "", fmt.Errorf("old_snippet not found in %s", rel)
	}
	if !params.ReplaceAll && count > 1 {
		return "", fmt.Errorf("old_snippet found %d times in %s; make it unique or set replace_all", count, rel)
	}

	var newContent string
	replaced := 1
	if params.ReplaceAll {
		newContent = strings.ReplaceAll(oldContent, params.OldSnippet, params.NewSnippet)
		replaced = count
	} else {
		newContent = strings.Replace(oldContent, params.OldSnippet, params.NewSnippet, 1)
	}

	if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	ft.record(abs, models.FileActionEdit)

	added, removed := diffStats(oldContent, newContent)
	return fmt.Sprintf("edited %s: %d replacement(s), +%d/-%d lines", rel, replaced, added, removed), nil
}

// diffStats counts added and removed lines between two versions.
func diffStats(oldContent, newContent string) (added, removed int) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	for _, d := range diffs {
		lines := strings.Count(d.Text, "\n")
		if lines == 0 && len(d.Text) > 0 {
			lines = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		}
	}
	return added, removed
}

// DeleteFileTool returns the delete_file tool definition.
func (ft *FileTools) DeleteFileTool(timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolDeleteFile,
		Description: "Delete a file from the repository.",
		Properties: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the repository root",
			},
		},
		Required: []string{"path"},
		Timeout:  timeout,
		Handler:  ft.deleteFile,
	}
}

func (ft *FileTools) deleteFile(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	abs, err := ft.policy.Resolve(params.Path)
	if err != nil {
		return "", err
	}
	if err := ft.policy.CheckWrite(abs); err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", ft.policy.Rel(abs))
	}

	if err := os.Remove(abs); err != nil {
		return "", fmt.Errorf("delete file: %w", err)
	}
	ft.record(abs, models.FileActionDelete)

	return fmt.Sprintf("deleted %s", ft.policy.Rel(abs)), nil
}

// ListDirectoryTool returns the list_directory tool definition.
func (ft *FileTools) ListDirectoryTool(timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolListDirectory,
		Description: "List the contents of a directory.",
		Properties: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path relative to the repository root (optional, defaults to root)",
			},
		},
		Timeout: timeout,
		Handler: ft.listDirectory,
	}
}

func (ft *FileTools) listDirectory(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if params.Path == "" {
		params.Path = "."
	}

	abs, err := ft.policy.Resolve(params.Path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "d %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&b, "- %s\n", entry.Name())
		}
	}
	if b.Len() == 0 {
		return "(empty directory)", nil
	}
	return truncateOutput(b.String()), nil
}

func truncateOutput(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}
