package verify

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// stubMarkers flag code that was written as a placeholder instead of an
// implementation. Their presence is a warning, never a failure.
var stubMarkers = []string{
	"Not implemented",
	"not implemented",
	"TODO: Implement",
	"TODO: implement",
	"http.StatusNotImplemented",
	"raise NotImplementedError",
	"FIXME",
	"placeholder implementation",
}

// sourceExtensions are the file types checked for stub markers.
var sourceExtensions = map[string]bool{
	".go":   true,
	".py":   true,
	".js":   true,
	".jsx":  true,
	".ts":   true,
	".tsx":  true,
	".rb":   true,
	".java": true,
	".rs":   true,
	".c":    true,
	".h":    true,
	".cpp":  true,
	".sh":   true,
}

// QualityWarnings runs best-effort content checks on a created or edited
// file. Findings are advisory: they ride along on the verified event and
// never fail the write.
func QualityWarnings(path string, content []byte) []string {
	var warnings []string

	if isBinary(content) {
		return nil
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return []string{"file is empty"}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if !json.Valid(content) {
			warnings = append(warnings, "file is not valid JSON")
		}
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(content, &doc); err != nil {
			warnings = append(warnings, "file is not valid YAML")
		}
	case ".go":
		if !strings.Contains(trimmed, "package ") {
			warnings = append(warnings, "go file has no package clause")
		}
		if delta := braceBalance(trimmed); delta != 0 {
			warnings = append(warnings, "unbalanced braces")
		}
	}

	if sourceExtensions[ext] {
		for _, marker := range stubMarkers {
			if strings.Contains(trimmed, marker) {
				warnings = append(warnings, fmt.Sprintf("stub marker %q found", marker))
			}
		}
		if len(strings.Split(trimmed, "\n")) <= 1 && len(trimmed) < 40 {
			warnings = append(warnings, "suspiciously short source file")
		}
	}

	return warnings
}

// braceBalance counts opening minus closing braces outside of line
// comments. A rough check, not a parser.
func braceBalance(s string) int {
	balance := 0
	for _, line := range strings.Split(s, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		balance += strings.Count(line, "{") - strings.Count(line, "}")
	}
	return balance
}

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
