// Package tools implements the agent tool surface: a frozen registry of
// schema-validated tools confined to one repository checkout.
package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultProtectedGlobs are repo-relative patterns no tool may write or delete.
var DefaultProtectedGlobs = []string{
	".git",
	".git/**",
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/id_rsa*",
}

// SecretGlobs are patterns no tool may read either.
var SecretGlobs = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/id_rsa*",
}

// PathEscapeError reports a path that resolves outside the repository root.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escapes repository root: %s", e.Path)
}

// ProtectedPathError reports an attempt to touch a protected path.
type ProtectedPathError struct {
	Path string
	Op   string
}

func (e *ProtectedPathError) Error() string {
	return fmt.Sprintf("%s of protected path refused: %s", e.Op, e.Path)
}

// Policy confines tool effects to one repository root and keeps version
// control internals and secret files off limits.
type Policy struct {
	root      string
	realRoot  string
	protected []string
	secret    []string
}

// NewPolicy creates a policy rooted at the given directory.
func NewPolicy(root string) (*Policy, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		real = abs
	}
	return &Policy{
		root:      abs,
		realRoot:  real,
		protected: DefaultProtectedGlobs,
		secret:    SecretGlobs,
	}, nil
}

// Root returns the absolute repository root.
func (p *Policy) Root() string {
	return p.root
}

// Resolve turns a tool-supplied path into an absolute path inside the root.
// Relative paths resolve against the root; anything landing outside it,
// including through a symlinked parent, returns a PathEscapeError.
func (p *Policy) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, abs)
	}
	abs = filepath.Clean(abs)
	if outsideRoot(p.root, abs) && outsideRoot(p.realRoot, abs) {
		return "", &PathEscapeError{Path: path}
	}

	// A symlinked parent directory can step outside even when the lexical
	// path is inside.
	if real, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		if outsideRoot(p.realRoot, filepath.Join(real, filepath.Base(abs))) {
			return "", &PathEscapeError{Path: path}
		}
	}
	return abs, nil
}

// Rel returns the repo-relative form of an absolute path for display and
// storage.
func (p *Policy) Rel(abs string) string {
	if rel, err := filepath.Rel(p.root, abs); err == nil {
		return rel
	}
	return abs
}

// CheckRead refuses reads of secret files.
func (p *Policy) CheckRead(abs string) error {
	rel := filepath.ToSlash(p.Rel(abs))
	for _, g := range p.secret {
		if ok, _ := doublestar.Match(g, rel); ok {
			return &ProtectedPathError{Path: rel, Op: "read"}
		}
	}
	return nil
}

// CheckWrite refuses writes and deletes on protected paths.
func (p *Policy) CheckWrite(abs string) error {
	rel := filepath.ToSlash(p.Rel(abs))
	for _, g := range p.protected {
		if ok, _ := doublestar.Match(g, rel); ok {
			return &ProtectedPathError{Path: rel, Op: "write"}
		}
	}
	return nil
}

func outsideRoot(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
