package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// RoleConfig holds per-persona settings loaded from YAML.
type RoleConfig struct {
	// Role is the persona name (planner, coder_be, qa, ...).
	Role string `mapstructure:"role"`
	// Model overrides the global model for this persona, empty for none.
	Model string `mapstructure:"model"`
	// MaxIterations overrides the tool-use budget, 0 for the engine default.
	MaxIterations int `mapstructure:"max_iterations"`
	// Tools lists the tool names this persona may call.
	Tools []string `mapstructure:"tools"`
	// ReviewRequired forces the review flag on every run of this persona.
	ReviewRequired bool `mapstructure:"review_required"`
}

// RoleConfigs holds the configs for every persona.
type RoleConfigs struct {
	roles map[models.AgentRole]*RoleConfig
}

// Get returns the config for the given role, falling back to defaults for
// unknown roles.
func (rc *RoleConfigs) Get(role models.AgentRole) *RoleConfig {
	if cfg, ok := rc.roles[role]; ok {
		return cfg
	}
	return defaultRoleConfig(role)
}

// LoadRoleConfigs loads persona configurations from the configs/ directory.
// It looks for one <role>.yaml per persona and falls back to the built-in
// defaults for any file that is absent. If configsDir is empty, it defaults
// to "configs" relative to the current directory.
func LoadRoleConfigs(configsDir string) (*RoleConfigs, error) {
	if configsDir == "" {
		configsDir = "configs"
	}

	rc := &RoleConfigs{roles: make(map[models.AgentRole]*RoleConfig)}

	for _, role := range agentRoles() {
		path := filepath.Join(configsDir, string(role)+".yaml")
		if _, err := os.Stat(path); err != nil {
			rc.roles[role] = defaultRoleConfig(role)
			continue
		}
		cfg, err := loadRoleConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load %s config: %w", role, err)
		}
		if cfg.Role == "" {
			cfg.Role = string(role)
		}
		if len(cfg.Tools) == 0 {
			cfg.Tools = defaultRoleConfig(role).Tools
		}
		rc.roles[role] = cfg
	}

	return rc, nil
}

// loadRoleConfig loads a single persona configuration from a YAML file.
func loadRoleConfig(path string) (*RoleConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &RoleConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultRoleConfigs returns hardcoded default persona configurations.
// This is used as a fallback when YAML files are not available.
func DefaultRoleConfigs() *RoleConfigs {
	rc := &RoleConfigs{roles: make(map[models.AgentRole]*RoleConfig)}
	for _, role := range agentRoles() {
		rc.roles[role] = defaultRoleConfig(role)
	}
	return rc
}

func agentRoles() []models.AgentRole {
	return []models.AgentRole{
		models.RolePlanner,
		models.RoleCoderBackend,
		models.RoleCoderFrontend,
		models.RoleCoderInfra,
		models.RoleQA,
		models.RoleDocs,
	}
}

// defaultRoleConfig encodes the built-in tool policy for a persona.
// The planner is read-only, docs may only edit existing files, QA may run
// commands but not write, and coders get the full set.
func defaultRoleConfig(role models.AgentRole) *RoleConfig {
	cfg := &RoleConfig{Role: string(role)}
	switch role {
	case models.RolePlanner:
		cfg.Tools = []string{"read_file", "list_directory", "search_files"}
	case models.RoleQA:
		cfg.Tools = []string{"read_file", "list_directory", "search_files", "run_command"}
	case models.RoleDocs:
		cfg.Tools = []string{"read_file", "list_directory", "search_files", "edit_file_snippet"}
	default:
		cfg.Tools = []string{
			"read_file", "write_file", "edit_file_snippet", "delete_file",
			"list_directory", "search_files", "run_command",
		}
	}
	return cfg
}
