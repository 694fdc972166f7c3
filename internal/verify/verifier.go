// Package verify re-reads every filesystem effect a tool reports and
// confirms it on disk before the effect becomes visible to the rest of
// the system. Only confirmed effects become VerifiedFileEvents.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/gravity/internal/tools"
	"github.com/antigravity-dev/gravity/pkg/models"
)

// Verifier wraps a tool registry. Every call goes through Execute, which
// runs the tool and then checks the reported effects against the disk.
// On any mismatch the tool result is replaced with a failure and no
// events are emitted for the call.
type Verifier struct {
	registry *tools.Registry
	files    *tools.FileTools
	root     string
	now      func() time.Time
}

// New creates a verifier over one run's registry and file toolset.
func New(registry *tools.Registry, files *tools.FileTools, root string) *Verifier {
	return &Verifier{
		registry: registry,
		files:    files,
		root:     root,
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source.
func (v *Verifier) SetClock(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Execute runs one tool call and confirms its reported filesystem effects.
// Returned events are confirmed on disk and carry size, content hash, and
// any quality warnings. Tool failures, including verification failures,
// come back as error results, never as Go errors.
func (v *Verifier) Execute(ctx context.Context, taskID, runID, name string, args json.RawMessage) (tools.Result, []models.VerifiedFileEvent) {
	before := len(v.files.Effects())
	res := v.registry.Execute(ctx, name, args)
	if res.IsError {
		return res, nil
	}

	effects := v.files.Effects()
	if len(effects) <= before {
		return res, nil
	}

	var events []models.VerifiedFileEvent
	for _, eff := range effects[before:] {
		ev, err := v.confirm(name, args, eff)
		if err != nil {
			return tools.Result{
				Content:  fmt.Sprintf("reality_mismatch: %v", err),
				IsError:  true,
				Duration: res.Duration,
			}, nil
		}
		ev.ID = uuid.NewString()
		ev.TaskID = taskID
		ev.RunID = runID
		ev.CreatedAt = v.now().UTC()
		events = append(events, ev)
	}
	return res, events
}

// confirm re-reads one reported effect from disk.
func (v *Verifier) confirm(toolName string, args json.RawMessage, eff tools.Effect) (models.VerifiedFileEvent, error) {
	ev := models.VerifiedFileEvent{
		Path:   filepath.ToSlash(eff.Path),
		Action: eff.Action,
	}
	abs := filepath.Join(v.root, eff.Path)

	if eff.Action == models.FileActionDelete {
		if _, err := os.Stat(abs); err == nil {
			return ev, fmt.Errorf("%s still exists after reported delete", ev.Path)
		} else if !os.IsNotExist(err) {
			return ev, fmt.Errorf("stat %s: %w", ev.Path, err)
		}
		return ev, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ev, fmt.Errorf("%s is missing after reported %s", ev.Path, eff.Action)
	}
	if info.IsDir() {
		return ev, fmt.Errorf("%s is a directory after reported %s", ev.Path, eff.Action)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return ev, fmt.Errorf("read back %s: %w", ev.Path, err)
	}
	sum := sha256.Sum256(content)
	ev.SizeBytes = int64(len(content))
	ev.SHA256 = hex.EncodeToString(sum[:])

	switch toolName {
	case tools.ToolWriteFile:
		// The full payload is in the arguments, so the write can be
		// checked byte for byte.
		var params struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(args, &params); err == nil {
			if int64(len(params.Content)) != ev.SizeBytes {
				return ev, fmt.Errorf("%s: wrote %d bytes, found %d on disk", ev.Path, len(params.Content), ev.SizeBytes)
			}
			want := sha256.Sum256([]byte(params.Content))
			if hex.EncodeToString(want[:]) != ev.SHA256 {
				return ev, fmt.Errorf("%s: content hash does not match the written payload", ev.Path)
			}
		}
	case tools.ToolEditFileSnippet:
		var params struct {
			NewSnippet string `json:"new_snippet"`
		}
		if err := json.Unmarshal(args, &params); err == nil && params.NewSnippet != "" {
			if !strings.Contains(string(content), params.NewSnippet) {
				return ev, fmt.Errorf("%s: edited snippet not present after edit", ev.Path)
			}
		}
	}

	ev.QualityWarnings = QualityWarnings(ev.Path, content)
	return ev, nil
}

// ClassifyResult maps a failed tool result to a stable error kind for run
// accounting. Unrecognized failures are generic tool errors.
func ClassifyResult(content string) models.ErrorKind {
	switch {
	case strings.HasPrefix(content, "reality_mismatch"):
		return models.ErrKindRealityMismatch
	case strings.Contains(content, "escapes repository root"):
		return models.ErrKindPathEscape
	case strings.Contains(content, "unsafe pattern"):
		return models.ErrKindUnsafeCommand
	case strings.Contains(content, "deadline exceeded"), strings.Contains(content, "timed out"):
		return models.ErrKindTimeout
	default:
		return models.ErrKindAgentFailed
	}
}
