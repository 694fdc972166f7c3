package tools

import (
	"fmt"
	"time"
)

// Config carries what one agent run needs to assemble its toolset.
type Config struct {
	// Root is the repository checkout all tools are confined to.
	Root string
	// ToolTimeout bounds file and search tools.
	ToolTimeout time.Duration
	// ExecTimeout bounds run_command.
	ExecTimeout time.Duration
}

// Build assembles a frozen registry with the full tool surface for one
// run. Role allowlists are applied by the caller when handing tool
// definitions to the model.
func Build(cfg Config) (*Registry, *FileTools, error) {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = time.Minute
	}

	policy, err := NewPolicy(cfg.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("tool policy: %w", err)
	}

	files := NewFileTools(policy)
	runner := NewCommandRunner(policy, cfg.ExecTimeout)

	reg := NewRegistry()
	for _, tool := range []*Tool{
		files.ReadFileTool(cfg.ToolTimeout),
		files.WriteFileTool(cfg.ToolTimeout),
		files.EditFileSnippetTool(cfg.ToolTimeout),
		files.DeleteFileTool(cfg.ToolTimeout),
		files.ListDirectoryTool(cfg.ToolTimeout),
		SearchTool(policy, cfg.ToolTimeout),
		runner.RunCommandTool(),
	} {
		if err := reg.Register(tool); err != nil {
			return nil, nil, err
		}
	}
	reg.Freeze()

	return reg, files, nil
}
