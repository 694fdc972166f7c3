package repotree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/gravity/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		kind    models.RepoKind
		testCmd string
	}{
		{
			name:    "go module",
			files:   map[string]string{"go.mod": "module example.com/x\n"},
			kind:    models.RepoKindGo,
			testCmd: "go test ./...",
		},
		{
			name:    "rust crate",
			files:   map[string]string{"Cargo.toml": "[package]\nname = \"x\"\n"},
			kind:    models.RepoKindRust,
			testCmd: "cargo test",
		},
		{
			name:    "python pyproject",
			files:   map[string]string{"pyproject.toml": "[project]\nname = \"x\"\n"},
			kind:    models.RepoKindPython,
			testCmd: "pytest",
		},
		{
			name:    "python requirements only",
			files:   map[string]string{"requirements.txt": "flask\n"},
			kind:    models.RepoKindPython,
			testCmd: "pytest",
		},
		{
			name:    "node with test script",
			files:   map[string]string{"package.json": `{"name":"x","scripts":{"test":"jest"}}`},
			kind:    models.RepoKindNode,
			testCmd: "npm test",
		},
		{
			name:    "node with npm init placeholder",
			files:   map[string]string{"package.json": `{"scripts":{"test":"echo \"Error: no test specified\" && exit 1"}}`},
			kind:    models.RepoKindNode,
			testCmd: "",
		},
		{
			name:    "node without scripts",
			files:   map[string]string{"package.json": `{"name":"x"}`},
			kind:    models.RepoKindNode,
			testCmd: "",
		},
		{
			name: "mixed go and node",
			files: map[string]string{
				"go.mod":       "module example.com/x\n",
				"package.json": `{"scripts":{"test":"jest"}}`,
			},
			kind:    models.RepoKindMixed,
			testCmd: "go test ./...",
		},
		{
			name:    "empty directory",
			files:   nil,
			kind:    models.RepoKindUnknown,
			testCmd: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}
			kind, cmd := Scan(dir)
			if kind != tt.kind {
				t.Errorf("kind = %q, want %q", kind, tt.kind)
			}
			if cmd != tt.testCmd {
				t.Errorf("test command = %q, want %q", cmd, tt.testCmd)
			}
		})
	}
}

func TestScanIgnoresDirectoryMarkers(t *testing.T) {
	dir := t.TempDir()
	// A directory named go.mod must not count as a Go module.
	if err := os.Mkdir(filepath.Join(dir, "go.mod"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	kind, _ := Scan(dir)
	if kind != models.RepoKindUnknown {
		t.Errorf("kind = %q, want unknown", kind)
	}
}
