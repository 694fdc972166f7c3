package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// maxSearchMatches caps the number of match lines returned in one call.
const maxSearchMatches = 200

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
}

// SearchTool returns the search_files tool definition, which walks the
// repository in-process rather than shelling out to grep.
func SearchTool(policy *Policy, timeout time.Duration) *Tool {
	return &Tool{
		Name:        ToolSearchFiles,
		Description: "Search repository files. Provide pattern for a content regex search, glob to filter files (e.g. **/*.go), or glob alone to list matching files.",
		Properties: map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to match against file content (optional)",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Glob filter for file paths, e.g. **/*.go (optional)",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search under, relative to the repository root (optional)",
			},
		},
		Timeout: timeout,
		Handler: searchFiles(policy),
	}
}

func searchFiles(policy *Policy) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var params struct {
			Pattern string `json:"pattern"`
			Glob    string `json:"glob"`
			Path    string `json:"path"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid parameters: %w", err)
		}
		if params.Pattern == "" && params.Glob == "" {
			return "", fmt.Errorf("either pattern or glob is required")
		}
		if params.Glob != "" {
			if !doublestar.ValidatePattern(params.Glob) {
				return "", fmt.Errorf("invalid glob pattern: %s", params.Glob)
			}
		}

		var re *regexp.Regexp
		if params.Pattern != "" {
			var err error
			re, err = regexp.Compile(params.Pattern)
			if err != nil {
				return "", fmt.Errorf("invalid regex pattern: %w", err)
			}
		}

		if params.Path == "" {
			params.Path = "."
		}
		root, err := policy.Resolve(params.Path)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		matches := 0
		truncated := false

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			name := d.Name()
			if d.IsDir() {
				if skipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
					return filepath.SkipDir
				}
				return nil
			}
			if matches >= maxSearchMatches {
				truncated = true
				return filepath.SkipAll
			}

			rel := policy.Rel(path)
			if params.Glob != "" {
				ok, err := doublestar.Match(params.Glob, filepath.ToSlash(rel))
				if err != nil || !ok {
					return nil
				}
			}
			if policy.CheckRead(path) != nil {
				return nil
			}

			if re == nil {
				fmt.Fprintf(&b, "%s\n", rel)
				matches++
				return nil
			}
			return grepFile(&b, re, path, rel, &matches)
		})
		if walkErr != nil {
			return "", fmt.Errorf("search: %w", walkErr)
		}

		if matches == 0 {
			return "no matches found", nil
		}
		out := b.String()
		if truncated {
			out += fmt.Sprintf("... (stopped after %d matches)\n", maxSearchMatches)
		}
		return truncateOutput(out), nil
	}
}

// grepFile scans one file line by line, appending "path:line: text" rows.
func grepFile(b *strings.Builder, re *regexp.Regexp, abs, rel string, matches *int) error {
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil
	}
	if isBinary(content) {
		return nil
	}

	for i, line := range strings.Split(string(content), "\n") {
		if *matches >= maxSearchMatches {
			return nil
		}
		if re.MatchString(line) {
			if len(line) > 500 {
				line = line[:500] + "..."
			}
			fmt.Fprintf(b, "%s:%d: %s\n", rel, i+1, line)
			*matches++
		}
	}
	return nil
}

// isBinary guesses from a NUL byte in the first kilobyte.
func isBinary(content []byte) bool {
	limit := len(content)
	if limit > 1024 {
		limit = 1024
	}
	for _, c := range content[:limit] {
		if c == 0 {
			return true
		}
	}
	return false
}
