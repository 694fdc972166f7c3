package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antigravity-dev/gravity/pkg/models"
)

func newTestFileTools(t *testing.T) *FileTools {
	t.Helper()
	p, err := NewPolicy(t.TempDir())
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	return NewFileTools(p)
}

func rawArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return b
}

func writeFixture(t *testing.T, ft *FileTools, rel, content string) string {
	t.Helper()
	abs := filepath.Join(ft.policy.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return abs
}

func TestReadFile(t *testing.T) {
	ft := newTestFileTools(t)
	abs := writeFixture(t, ft, "notes.txt", "alpha\nbravo\ncharlie")

	out, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "notes.txt"}))
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	for i, line := range []string{"alpha", "bravo", "charlie"} {
		if !strings.Contains(out, line) {
			t.Errorf("readFile() output missing line %d (%q):\n%s", i+1, line, out)
		}
	}
	if !strings.Contains(out, "     1\talpha") {
		t.Errorf("readFile() output not numbered:\n%s", out)
	}
	if !ft.WasRead(abs) {
		t.Error("WasRead() = false after readFile")
	}
}

func TestReadFile_OffsetAndLimit(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "notes.txt", "alpha\nbravo\ncharlie\ndelta")

	out, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{
		"path": "notes.txt", "offset": 2, "limit": 2,
	}))
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	if strings.Contains(out, "alpha") || strings.Contains(out, "delta") {
		t.Errorf("readFile() window wrong:\n%s", out)
	}
	if !strings.Contains(out, "     2\tbravo") || !strings.Contains(out, "     3\tcharlie") {
		t.Errorf("readFile() window wrong:\n%s", out)
	}

	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{
		"path": "notes.txt", "offset": 99,
	})); err == nil {
		t.Error("readFile() with offset past EOF succeeded, want error")
	}
}

func TestReadFile_Refusals(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, ".env", "API_KEY=secret")

	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": ".env"})); err == nil {
		t.Error("readFile(.env) succeeded, want protected error")
	}
	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "../outside"})); err == nil {
		t.Error("readFile(../outside) succeeded, want escape error")
	}
	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "missing.txt"})); err == nil {
		t.Error("readFile(missing) succeeded, want error")
	}
}

func TestWriteFile(t *testing.T) {
	ft := newTestFileTools(t)

	out, err := ft.writeFile(context.Background(), rawArgs(t, map[string]any{
		"path": "src/app.go", "content": "package app\n",
	}))
	if err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if !strings.Contains(out, "12 bytes") {
		t.Errorf("writeFile() output = %q, want byte count", out)
	}

	data, err := os.ReadFile(filepath.Join(ft.policy.Root(), "src/app.go"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "package app\n" {
		t.Errorf("file content = %q", data)
	}

	// Overwriting records an edit, not a create.
	if _, err := ft.writeFile(context.Background(), rawArgs(t, map[string]any{
		"path": "src/app.go", "content": "package app // v2\n",
	})); err != nil {
		t.Fatalf("writeFile() overwrite error = %v", err)
	}

	effects := ft.Effects()
	if len(effects) != 2 {
		t.Fatalf("Effects() returned %d, want 2", len(effects))
	}
	if effects[0].Action != models.FileActionCreate {
		t.Errorf("effects[0].Action = %q, want create", effects[0].Action)
	}
	if effects[1].Action != models.FileActionEdit {
		t.Errorf("effects[1].Action = %q, want edit", effects[1].Action)
	}
	if effects[0].Path != filepath.Join("src", "app.go") {
		t.Errorf("effects[0].Path = %q, want repo-relative path", effects[0].Path)
	}
}

func TestWriteFile_Protected(t *testing.T) {
	ft := newTestFileTools(t)

	if _, err := ft.writeFile(context.Background(), rawArgs(t, map[string]any{
		"path": ".git/config", "content": "[core]",
	})); err == nil {
		t.Error("writeFile(.git/config) succeeded, want protected error")
	}
	if len(ft.Effects()) != 0 {
		t.Error("refused write recorded an effect")
	}
}

func TestEditFileSnippet(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "greet.go", "say hello world\nsay hello again\n")

	// Editing before reading is refused.
	_, err := ft.editFileSnippet(context.Background(), rawArgs(t, map[string]any{
		"path": "greet.go", "old_snippet": "world", "new_snippet": "gopher",
	}))
	if err == nil || !strings.Contains(err.Error(), "read_file") {
		t.Fatalf("editFileSnippet() before read error = %v, want read_file hint", err)
	}

	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "greet.go"})); err != nil {
		t.Fatalf("readFile() error = %v", err)
	}

	out, err := ft.editFileSnippet(context.Background(), rawArgs(t, map[string]any{
		"path": "greet.go", "old_snippet": "world", "new_snippet": "gopher",
	}))
	if err != nil {
		t.Fatalf("editFileSnippet() error = %v", err)
	}
	if !strings.Contains(out, "1 replacement") {
		t.Errorf("editFileSnippet() output = %q, want replacement count", out)
	}

	data, _ := os.ReadFile(filepath.Join(ft.policy.Root(), "greet.go"))
	if !strings.Contains(string(data), "hello gopher") {
		t.Errorf("file content after edit = %q", data)
	}

	effects := ft.Effects()
	if len(effects) != 1 || effects[0].Action != models.FileActionEdit {
		t.Errorf("Effects() = %+v, want one edit", effects)
	}
}

func TestEditFileSnippet_Ambiguous(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "greet.go", "say hello world\nsay hello again\n")
	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "greet.go"})); err != nil {
		t.Fatalf("readFile() error = %v", err)
	}

	_, err := ft.editFileSnippet(context.Background(), rawArgs(t, map[string]any{
		"path": "greet.go", "old_snippet": "hello", "new_snippet": "hi",
	}))
	if err == nil || !strings.Contains(err.Error(), "2 times") {
		t.Fatalf("editFileSnippet() ambiguous error = %v, want occurrence count", err)
	}

	out, err := ft.editFileSnippet(context.Background(), rawArgs(t, map[string]any{
		"path": "greet.go", "old_snippet": "hello", "new_snippet": "hi", "replace_all": true,
	}))
	if err != nil {
		t.Fatalf("editFileSnippet() replace_all error = %v", err)
	}
	if !strings.Contains(out, "2 replacement") {
		t.Errorf("editFileSnippet() output = %q, want 2 replacements", out)
	}

	data, _ := os.ReadFile(filepath.Join(ft.policy.Root(), "greet.go"))
	if strings.Contains(string(data), "hello") {
		t.Errorf("file still contains old snippet: %q", data)
	}
}

func TestEditFileSnippet_NotFound(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "greet.go", "say hello\n")
	if _, err := ft.readFile(context.Background(), rawArgs(t, map[string]any{"path": "greet.go"})); err != nil {
		t.Fatalf("readFile() error = %v", err)
	}

	_, err := ft.editFileSnippet(context.Background(), rawArgs(t, map[string]any{
		"path": "greet.go", "old_snippet": "goodbye", "new_snippet": "farewell",
	}))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("editFileSnippet() error = %v, want not found", err)
	}
}

func TestDeleteFile(t *testing.T) {
	ft := newTestFileTools(t)
	abs := writeFixture(t, ft, "old.txt", "stale")

	out, err := ft.deleteFile(context.Background(), rawArgs(t, map[string]any{"path": "old.txt"}))
	if err != nil {
		t.Fatalf("deleteFile() error = %v", err)
	}
	if !strings.Contains(out, "deleted old.txt") {
		t.Errorf("deleteFile() output = %q", out)
	}
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Error("file still exists after deleteFile")
	}

	effects := ft.Effects()
	if len(effects) != 1 || effects[0].Action != models.FileActionDelete {
		t.Errorf("Effects() = %+v, want one delete", effects)
	}

	if _, err := ft.deleteFile(context.Background(), rawArgs(t, map[string]any{"path": "old.txt"})); err == nil {
		t.Error("deleteFile() on missing file succeeded, want error")
	}
}

func TestDeleteFile_Directory(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "pkg/keep.go", "package pkg\n")

	if _, err := ft.deleteFile(context.Background(), rawArgs(t, map[string]any{"path": "pkg"})); err == nil {
		t.Error("deleteFile(directory) succeeded, want error")
	}
}

func TestListDirectory(t *testing.T) {
	ft := newTestFileTools(t)
	writeFixture(t, ft, "src/main.go", "package main\n")
	writeFixture(t, ft, "README.md", "# readme")

	out, err := ft.listDirectory(context.Background(), rawArgs(t, map[string]any{}))
	if err != nil {
		t.Fatalf("listDirectory() error = %v", err)
	}
	if !strings.Contains(out, "d src/") {
		t.Errorf("listDirectory() output missing directory entry:\n%s", out)
	}
	if !strings.Contains(out, "- README.md (8 bytes)") {
		t.Errorf("listDirectory() output missing file entry:\n%s", out)
	}

	empty := filepath.Join(ft.policy.Root(), "empty")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	out, err = ft.listDirectory(context.Background(), rawArgs(t, map[string]any{"path": "empty"}))
	if err != nil {
		t.Fatalf("listDirectory(empty) error = %v", err)
	}
	if out != "(empty directory)" {
		t.Errorf("listDirectory(empty) = %q", out)
	}
}

func TestDiffStats(t *testing.T) {
	added, removed := diffStats("a\nb\nc\n", "a\nB\nc\nd\n")
	if added == 0 {
		t.Errorf("diffStats() added = %d, want > 0", added)
	}
	if removed == 0 {
		t.Errorf("diffStats() removed = %d, want > 0", removed)
	}
}
