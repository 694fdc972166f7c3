package repotree

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// Scan detects the project kind of a working tree and the test command QA
// should default to. Marker files are checked in order of specificity; more
// than one stack present yields RepoKindMixed with the primary's command.
func Scan(path string) (models.RepoKind, string) {
	type marker struct {
		kind models.RepoKind
		cmd  string
	}
	var found []marker

	if fileExists(filepath.Join(path, "go.mod")) {
		found = append(found, marker{models.RepoKindGo, "go test ./..."})
	}
	if fileExists(filepath.Join(path, "Cargo.toml")) {
		found = append(found, marker{models.RepoKindRust, "cargo test"})
	}
	if fileExists(filepath.Join(path, "pyproject.toml")) ||
		fileExists(filepath.Join(path, "setup.py")) ||
		fileExists(filepath.Join(path, "requirements.txt")) {
		found = append(found, marker{models.RepoKindPython, "pytest"})
	}
	if fileExists(filepath.Join(path, "package.json")) {
		cmd := ""
		if hasTestScript(filepath.Join(path, "package.json")) {
			cmd = "npm test"
		}
		found = append(found, marker{models.RepoKindNode, cmd})
	}

	switch len(found) {
	case 0:
		return models.RepoKindUnknown, ""
	case 1:
		return found[0].kind, found[0].cmd
	default:
		return models.RepoKindMixed, found[0].cmd
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// hasTestScript reports whether package.json declares a real test script.
// npm init's placeholder that just exits 1 does not count.
func hasTestScript(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return false
	}
	script, ok := pkg.Scripts["test"]
	if !ok || script == "" {
		return false
	}
	return script != `echo "Error: no test specified" && exit 1`
}
