package models

import "time"

// RepoKind is the detected project type of a repository.
type RepoKind string

const (
	// RepoKindGo is a Go module.
	RepoKindGo RepoKind = "go"
	// RepoKindPython is a Python project.
	RepoKindPython RepoKind = "python"
	// RepoKindNode is a Node.js project.
	RepoKindNode RepoKind = "node"
	// RepoKindRust is a Rust crate.
	RepoKindRust RepoKind = "rust"
	// RepoKindMixed is a repository with more than one detected stack.
	RepoKindMixed RepoKind = "mixed"
	// RepoKindUnknown is a repository with no recognized markers.
	RepoKindUnknown RepoKind = "unknown"
)

// Repository is a registered working tree that tasks operate on. All agent
// file access is confined to Path; anything resolving outside it is rejected.
type Repository struct {
	// ID is the unique identifier for this repository.
	ID string `json:"id"`
	// Name is a human-friendly label.
	Name string `json:"name"`
	// Path is the absolute root directory of the working tree.
	Path string `json:"path"`
	// Kind is the detected project type, set by scanning.
	Kind RepoKind `json:"kind"`
	// DefaultTestCommand is the command QA runs when the agent does not choose one.
	DefaultTestCommand string `json:"default_test_command,omitempty"`
	// CreatedAt is when the repository was registered.
	CreatedAt time.Time `json:"created_at"`
	// ScannedAt is when the project type was last detected.
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

// FileNode is one entry in a repository file tree listing.
type FileNode struct {
	// Name is the base name of the entry.
	Name string `json:"name"`
	// Path is the repository-relative path.
	Path string `json:"path"`
	// Dir is true for directories.
	Dir bool `json:"dir"`
	// SizeBytes is the file size, 0 for directories.
	SizeBytes int64 `json:"size_bytes,omitempty"`
	// Children are the entries under a directory, sorted by name.
	Children []*FileNode `json:"children,omitempty"`
}
