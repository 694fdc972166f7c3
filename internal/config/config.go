// Package config handles configuration loading and management for Gravity.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Gravity.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Bus       BusConfig       `mapstructure:"bus"`
	Tree      TreeConfig      `mapstructure:"tree"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`
	// Port is the listen port.
	Port int `mapstructure:"port"`
	// CORSOrigins lists allowed browser origins, empty for all.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier used for all agent roles unless a role
	// config overrides it.
	Model string `mapstructure:"model"`
	// MaxRetries caps transport retries on rate limits and transient
	// network failures; the SDK backs off exponentially between attempts.
	// 0 keeps the SDK default.
	MaxRetries int `mapstructure:"max_retries"`
	// UseBedrock routes requests through AWS Bedrock instead of the API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region when UseBedrock is set.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is an optional shared config profile for Bedrock credentials.
	AWSProfile string `mapstructure:"aws_profile"`
}

// DatabaseConfig holds storage paths.
type DatabaseConfig struct {
	// Path is the SQLite file for task state, empty for the XDG data default.
	Path string `mapstructure:"path"`
	// KnowledgePath is the SQLite file for the knowledge blackboard.
	KnowledgePath string `mapstructure:"knowledge_path"`
}

// EngineConfig holds pipeline tuning. Zero values fall back to defaults at
// load time, so a partial config file only overrides what it names.
type EngineConfig struct {
	// AutoApproveThreshold is the plan confidence at or above which
	// execution proceeds without review.
	AutoApproveThreshold float64 `mapstructure:"auto_approve_threshold"`
	// ReviewThreshold is the confidence below which agent output forces
	// the review flag.
	ReviewThreshold float64 `mapstructure:"review_threshold"`
	// HeartbeatInterval is how often a worker refreshes its lease.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// LeaseDuration is how stale a heartbeat may be before the sweeper
	// reclaims the task. Defaults to three heartbeat intervals.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// MaxFixRetries is the fix-loop budget per task.
	MaxFixRetries int `mapstructure:"max_fix_retries"`
	// MaxFixDepth is the deepest allowed chain of fix children.
	MaxFixDepth int `mapstructure:"max_fix_depth"`
	// MaxIterations is the tool-use iteration budget per agent invocation.
	MaxIterations int `mapstructure:"max_iterations"`
	// AgentTimeout bounds a single model round trip.
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
	// ToolTimeout bounds file and scan tools.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	// ExecTimeout bounds shell command tools.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	// PhaseTimeout bounds one whole pipeline phase.
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`
	// Workers is the orchestrator pool size, 0 to derive from CPU count.
	Workers int `mapstructure:"workers"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	// Transport selects the bus implementation: "memory" or "nats".
	Transport string `mapstructure:"transport"`
	// NATSURL is the server URL for the nats transport.
	NATSURL string `mapstructure:"nats_url"`
	// SubjectPrefix namespaces published subjects.
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// TreeConfig holds repository file tree settings.
type TreeConfig struct {
	// CacheSize is the number of repo trees kept in the LRU cache.
	CacheSize int `mapstructure:"cache_size"`
	// Watch enables filesystem watching for cache invalidation.
	Watch bool `mapstructure:"watch"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, GRAVITY_PORT, NATS_URL, ...)
// 2. Project config (.gravity.yaml in current directory or parent)
// 3. User config (~/.config/gravity/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "GRAVITY_MODEL")
	v.BindEnv("server.port", "GRAVITY_PORT")
	v.BindEnv("database.path", "GRAVITY_DB")
	v.BindEnv("bus.transport", "GRAVITY_BUS")
	v.BindEnv("bus.nats_url", "NATS_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	applyFallbacks(cfg)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	applyFallbacks(cfg)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("server.host", cfg.Server.Host)
	v.Set("server.port", cfg.Server.Port)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.knowledge_path", cfg.Database.KnowledgePath)
	v.Set("engine.auto_approve_threshold", cfg.Engine.AutoApproveThreshold)
	v.Set("engine.review_threshold", cfg.Engine.ReviewThreshold)
	v.Set("engine.heartbeat_interval", cfg.Engine.HeartbeatInterval.String())
	v.Set("engine.lease_duration", cfg.Engine.LeaseDuration.String())
	v.Set("engine.max_fix_retries", cfg.Engine.MaxFixRetries)
	v.Set("engine.max_fix_depth", cfg.Engine.MaxFixDepth)
	v.Set("engine.max_iterations", cfg.Engine.MaxIterations)
	v.Set("engine.workers", cfg.Engine.Workers)
	v.Set("bus.transport", cfg.Bus.Transport)
	v.Set("bus.nats_url", cfg.Bus.NATSURL)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")

	v.SetDefault("database.path", "")
	v.SetDefault("database.knowledge_path", "")

	v.SetDefault("engine.auto_approve_threshold", 0.7)
	v.SetDefault("engine.review_threshold", 0.7)
	v.SetDefault("engine.heartbeat_interval", "15s")
	v.SetDefault("engine.lease_duration", "45s")
	v.SetDefault("engine.max_fix_retries", 3)
	v.SetDefault("engine.max_fix_depth", 3)
	v.SetDefault("engine.max_iterations", 8)
	v.SetDefault("engine.agent_timeout", "2m")
	v.SetDefault("engine.tool_timeout", "1m")
	v.SetDefault("engine.exec_timeout", "5m")
	v.SetDefault("engine.phase_timeout", "20m")
	v.SetDefault("engine.workers", 0)

	v.SetDefault("bus.transport", "memory")
	v.SetDefault("bus.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.subject_prefix", "gravity")

	v.SetDefault("tree.cache_size", 64)
	v.SetDefault("tree.watch", true)
}

// applyFallbacks fills zero-valued engine settings so a sparse config file
// cannot disable heartbeats or budgets by accident.
func applyFallbacks(cfg *Config) {
	if cfg.Engine.HeartbeatInterval <= 0 {
		cfg.Engine.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Engine.LeaseDuration <= 0 {
		cfg.Engine.LeaseDuration = 3 * cfg.Engine.HeartbeatInterval
	}
	if cfg.Engine.MaxIterations <= 0 {
		cfg.Engine.MaxIterations = 8
	}
	if cfg.Engine.AgentTimeout <= 0 {
		cfg.Engine.AgentTimeout = 2 * time.Minute
	}
	if cfg.Engine.ToolTimeout <= 0 {
		cfg.Engine.ToolTimeout = time.Minute
	}
	if cfg.Engine.ExecTimeout <= 0 {
		cfg.Engine.ExecTimeout = 5 * time.Minute
	}
	if cfg.Engine.PhaseTimeout <= 0 {
		cfg.Engine.PhaseTimeout = 20 * time.Minute
	}
	if cfg.Tree.CacheSize <= 0 {
		cfg.Tree.CacheSize = 64
	}
}

// DataDir returns the XDG data directory for Gravity, creating it if needed.
func DataDir() (string, error) {
	var base string
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		base = filepath.Join(xdgData, "gravity")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share", "gravity")
	}
	if err := os.MkdirAll(base, 0700); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return base, nil
}

// DatabasePath resolves the task database path, falling back to the XDG
// data directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gravity.db"), nil
}

// KnowledgePath resolves the knowledge database path, falling back to the
// XDG data directory.
func (c *Config) KnowledgePath() (string, error) {
	if c.Database.KnowledgePath != "" {
		return c.Database.KnowledgePath, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "knowledge.db"), nil
}

// getUserConfigDir returns the XDG config directory for Gravity.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gravity")
	}

	// Fall back to ~/.config/gravity
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "gravity")
	}
	return filepath.Join(home, ".config", "gravity")
}

// findProjectConfig searches for .gravity.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".gravity.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Anthropic: AnthropicConfig{
			APIKey:     "",
			Model:      "claude-sonnet-4-20250514",
			MaxRetries: 3,
		},
		Engine: EngineConfig{
			AutoApproveThreshold: 0.7,
			ReviewThreshold:      0.7,
			HeartbeatInterval:    15 * time.Second,
			LeaseDuration:        45 * time.Second,
			MaxFixRetries:        3,
			MaxFixDepth:          3,
			MaxIterations:        8,
			AgentTimeout:         2 * time.Minute,
			ToolTimeout:          time.Minute,
			ExecTimeout:          5 * time.Minute,
			PhaseTimeout:         20 * time.Minute,
		},
		Bus: BusConfig{
			Transport:     "memory",
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "gravity",
		},
		Tree: TreeConfig{
			CacheSize: 64,
			Watch:     true,
		},
	}
}
