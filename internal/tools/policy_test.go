package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(t.TempDir())
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	return p
}

func TestResolve(t *testing.T) {
	p := newTestPolicy(t)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "simple relative", path: "src/main.go", want: filepath.Join(p.Root(), "src/main.go")},
		{name: "dot prefixed", path: "./README.md", want: filepath.Join(p.Root(), "README.md")},
		{name: "root itself", path: ".", want: p.Root()},
		{name: "internal dotdot stays inside", path: "a/../b.txt", want: filepath.Join(p.Root(), "b.txt")},
		{name: "missing parent directory", path: "newdir/file.txt", want: filepath.Join(p.Root(), "newdir/file.txt")},
		{name: "empty", path: "", wantErr: true},
		{name: "whitespace only", path: "   ", wantErr: true},
		{name: "parent escape", path: "../outside.txt", wantErr: true},
		{name: "deep parent escape", path: "a/../../x.txt", wantErr: true},
		{name: "absolute outside root", path: "/etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolve_EscapeErrorType(t *testing.T) {
	p := newTestPolicy(t)

	_, err := p.Resolve("../secrets.txt")
	var escapeErr *PathEscapeError
	if !errors.As(err, &escapeErr) {
		t.Fatalf("Resolve() error = %v, want *PathEscapeError", err)
	}
	if escapeErr.Path != "../secrets.txt" {
		t.Errorf("PathEscapeError.Path = %q, want %q", escapeErr.Path, "../secrets.txt")
	}
}

func TestResolve_SymlinkedParentEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	p, err := NewPolicy(root)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	if _, err := p.Resolve("link/file.txt"); err == nil {
		t.Error("Resolve() through symlinked parent succeeded, want escape error")
	}
}

func TestCheckRead(t *testing.T) {
	p := newTestPolicy(t)

	allowed := []string{"src/main.go", "README.md", "docs/env.md", "environment.txt"}
	for _, path := range allowed {
		if err := p.CheckRead(filepath.Join(p.Root(), path)); err != nil {
			t.Errorf("CheckRead(%q) error = %v, want nil", path, err)
		}
	}

	refused := []string{".env", ".env.local", "config/.env", "certs/server.pem", "keys/signing.key", ".ssh/id_rsa", "id_rsa.pub"}
	for _, path := range refused {
		err := p.CheckRead(filepath.Join(p.Root(), path))
		if err == nil {
			t.Errorf("CheckRead(%q) = nil, want error", path)
			continue
		}
		var protErr *ProtectedPathError
		if !errors.As(err, &protErr) {
			t.Errorf("CheckRead(%q) error = %v, want *ProtectedPathError", path, err)
		}
	}
}

func TestCheckWrite(t *testing.T) {
	p := newTestPolicy(t)

	allowed := []string{"src/main.go", "Makefile", "gitignore.txt"}
	for _, path := range allowed {
		if err := p.CheckWrite(filepath.Join(p.Root(), path)); err != nil {
			t.Errorf("CheckWrite(%q) error = %v, want nil", path, err)
		}
	}

	refused := []string{".git", ".git/config", ".git/hooks/pre-commit", ".env", "server.pem", "nested/dir/.env.production"}
	for _, path := range refused {
		err := p.CheckWrite(filepath.Join(p.Root(), path))
		if err == nil {
			t.Errorf("CheckWrite(%q) = nil, want error", path)
			continue
		}
		if !strings.Contains(err.Error(), "protected path") {
			t.Errorf("CheckWrite(%q) error = %v, want protected path message", path, err)
		}
	}
}

func TestRel(t *testing.T) {
	p := newTestPolicy(t)

	if got := p.Rel(filepath.Join(p.Root(), "a", "b.txt")); got != filepath.Join("a", "b.txt") {
		t.Errorf("Rel() = %q, want %q", got, filepath.Join("a", "b.txt"))
	}
}
