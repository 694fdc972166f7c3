package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/gravity/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Gravity configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/gravity/config.yaml
Project-specific overrides can be placed in .gravity.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("server.host: %s\n", cfg.Server.Host)
	fmt.Printf("server.port: %d\n", cfg.Server.Port)
	fmt.Printf("database.path: %s\n", cfg.Database.Path)
	fmt.Printf("database.knowledge_path: %s\n", cfg.Database.KnowledgePath)
	fmt.Printf("engine.auto_approve_threshold: %g\n", cfg.Engine.AutoApproveThreshold)
	fmt.Printf("engine.review_threshold: %g\n", cfg.Engine.ReviewThreshold)
	fmt.Printf("engine.heartbeat_interval: %s\n", cfg.Engine.HeartbeatInterval)
	fmt.Printf("engine.lease_duration: %s\n", cfg.Engine.LeaseDuration)
	fmt.Printf("engine.max_fix_retries: %d\n", cfg.Engine.MaxFixRetries)
	fmt.Printf("engine.max_fix_depth: %d\n", cfg.Engine.MaxFixDepth)
	fmt.Printf("engine.max_iterations: %d\n", cfg.Engine.MaxIterations)
	fmt.Printf("engine.agent_timeout: %s\n", cfg.Engine.AgentTimeout)
	fmt.Printf("engine.workers: %d\n", cfg.Engine.Workers)
	fmt.Printf("bus.transport: %s\n", cfg.Bus.Transport)
	fmt.Printf("bus.nats_url: %s\n", cfg.Bus.NATSURL)
	fmt.Printf("tree.watch: %t\n", cfg.Tree.Watch)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	if strings.ToLower(key) == "anthropic.api_key" {
		value = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "server.host":
		return cfg.Server.Host, nil
	case "server.port":
		return strconv.Itoa(cfg.Server.Port), nil
	case "database.path":
		return cfg.Database.Path, nil
	case "database.knowledge_path":
		return cfg.Database.KnowledgePath, nil
	case "engine.auto_approve_threshold":
		return strconv.FormatFloat(cfg.Engine.AutoApproveThreshold, 'g', -1, 64), nil
	case "engine.review_threshold":
		return strconv.FormatFloat(cfg.Engine.ReviewThreshold, 'g', -1, 64), nil
	case "engine.heartbeat_interval":
		return cfg.Engine.HeartbeatInterval.String(), nil
	case "engine.lease_duration":
		return cfg.Engine.LeaseDuration.String(), nil
	case "engine.max_fix_retries":
		return strconv.Itoa(cfg.Engine.MaxFixRetries), nil
	case "engine.max_fix_depth":
		return strconv.Itoa(cfg.Engine.MaxFixDepth), nil
	case "engine.max_iterations":
		return strconv.Itoa(cfg.Engine.MaxIterations), nil
	case "engine.agent_timeout":
		return cfg.Engine.AgentTimeout.String(), nil
	case "engine.workers":
		return strconv.Itoa(cfg.Engine.Workers), nil
	case "bus.transport":
		return cfg.Bus.Transport, nil
	case "bus.nats_url":
		return cfg.Bus.NATSURL, nil
	case "tree.watch":
		return strconv.FormatBool(cfg.Tree.Watch), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "server.host":
		cfg.Server.Host = value
	case "server.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for server.port: %w", err)
		}
		cfg.Server.Port = n
	case "database.path":
		cfg.Database.Path = value
	case "database.knowledge_path":
		cfg.Database.KnowledgePath = value
	case "engine.auto_approve_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for auto_approve_threshold: %w", err)
		}
		cfg.Engine.AutoApproveThreshold = f
	case "engine.review_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for review_threshold: %w", err)
		}
		cfg.Engine.ReviewThreshold = f
	case "engine.heartbeat_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for heartbeat_interval: %w", err)
		}
		cfg.Engine.HeartbeatInterval = d
	case "engine.lease_duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for lease_duration: %w", err)
		}
		cfg.Engine.LeaseDuration = d
	case "engine.max_fix_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_fix_retries: %w", err)
		}
		cfg.Engine.MaxFixRetries = n
	case "engine.max_fix_depth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_fix_depth: %w", err)
		}
		cfg.Engine.MaxFixDepth = n
	case "engine.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_iterations: %w", err)
		}
		cfg.Engine.MaxIterations = n
	case "engine.agent_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for agent_timeout: %w", err)
		}
		cfg.Engine.AgentTimeout = d
	case "engine.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for workers: %w", err)
		}
		cfg.Engine.Workers = n
	case "bus.transport":
		cfg.Bus.Transport = value
	case "bus.nats_url":
		cfg.Bus.NATSURL = value
	case "tree.watch":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for tree.watch: %w", err)
		}
		cfg.Tree.Watch = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
