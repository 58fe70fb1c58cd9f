package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/GalSened/mcp-filesystem-server/sandbox"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Run     RunConfig     `mapstructure:"run"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds transport configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPHost  string `mapstructure:"http_host"`
	HTTPPort  int    `mapstructure:"http_port"`
	HTTPPath  string `mapstructure:"http_path"`
}

// SandboxConfig holds the filesystem sandbox configuration
type SandboxConfig struct {
	Root string `mapstructure:"root"`
}

// PolicyConfig holds the allow/deny glob pattern sets
type PolicyConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// RunConfig holds the command execution policy
type RunConfig struct {
	Enabled        bool                `mapstructure:"enabled"`
	TimeoutSec     int                 `mapstructure:"timeout_sec"`
	MaxOutputBytes int                 `mapstructure:"max_output_bytes"`
	Allowlist      map[string][]string `mapstructure:"allowlist"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// policyFile is the shape of an optional external policy override file,
// decoded with yaml.v3 because the command allowlist (basename -> argument
// prefix) does not survive viper's env-merged map handling.
type policyFile struct {
	Allow     []string            `yaml:"allow"`
	Deny      []string            `yaml:"deny"`
	Allowlist map[string][]string `yaml:"allowlist"`
}

// New loads and validates the application configuration. Values come from
// config.yaml when present, overridden by the server's environment
// variables; the result is immutable for the life of the process.
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Set default values
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.http_path", "/mcp")
	v.SetDefault("sandbox.root", "./sandbox")
	v.SetDefault("policy.allow", sandbox.DefaultAllowGlobs)
	v.SetDefault("policy.deny", sandbox.DefaultDenyGlobs)
	v.SetDefault("run.enabled", false)
	v.SetDefault("run.timeout_sec", 30)
	v.SetDefault("run.max_output_bytes", 200000)
	v.SetDefault("run.allowlist", sandbox.DefaultCommandAllowlist)
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	// Environment variables of the original server
	bindings := map[string]string{
		"sandbox.root":         "MCP_FS_ROOT",
		"server.transport":     "MCP_TRANSPORT",
		"server.http_host":     "MCP_HTTP_HOST",
		"server.http_port":     "MCP_HTTP_PORT",
		"server.http_path":     "MCP_HTTP_PATH",
		"run.timeout_sec":      "RUN_TIMEOUT_SEC",
		"run.max_output_bytes": "RUN_MAX_STDOUT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// ENABLE_RUN_COMMANDS follows the original convention: "1" enables.
	if os.Getenv("ENABLE_RUN_COMMANDS") == "1" {
		config.Run.Enabled = true
	}

	// Optional external policy file overriding pattern sets and allowlist.
	if path := os.Getenv("MCP_POLICY_FILE"); path != "" {
		if err := config.loadPolicyFile(path); err != nil {
			return nil, fmt.Errorf("policy file %s: %w", path, err)
		}
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func (c *Config) loadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return err
	}
	if pf.Allow != nil {
		c.Policy.Allow = pf.Allow
	}
	if pf.Deny != nil {
		c.Policy.Deny = pf.Deny
	}
	if pf.Allowlist != nil {
		c.Run.Allowlist = pf.Allowlist
	}
	return nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "sse":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'sse'", c.Server.Transport)
	}

	if c.Sandbox.Root == "" {
		return fmt.Errorf("sandbox.root must not be empty")
	}

	if c.Run.TimeoutSec <= 0 {
		return fmt.Errorf("run.timeout_sec must be positive, got: %d", c.Run.TimeoutSec)
	}

	if c.Run.MaxOutputBytes <= 0 {
		return fmt.Errorf("run.max_output_bytes must be positive, got: %d", c.Run.MaxOutputBytes)
	}

	for name := range c.Run.Allowlist {
		if name == "" {
			return fmt.Errorf("run.allowlist contains an empty command name")
		}
	}

	if len(c.Policy.Allow) == 0 {
		return fmt.Errorf("policy.allow must contain at least one pattern")
	}

	if err := sandbox.ValidateGlobs(c.Policy.Allow); err != nil {
		return fmt.Errorf("policy.allow: %w", err)
	}

	if err := sandbox.ValidateGlobs(c.Policy.Deny); err != nil {
		return fmt.Errorf("policy.deny: %w", err)
	}

	return nil
}

// GetRunTimeout returns the default execution timeout as a duration
func (c *Config) GetRunTimeout() time.Duration {
	return time.Duration(c.Run.TimeoutSec) * time.Second
}
