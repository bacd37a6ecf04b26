// Package config loads chatterflow configuration from TOML files and
// environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chatter-ai/chatterflow/pkg/log"
)

type Config struct {
	Home       string           `mapstructure:"home"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Validation ValidationConfig `mapstructure:"validation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
}

// ExecutorConfig bounds workflow execution.
type ExecutorConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	SnapshotDir    string        `mapstructure:"snapshot_dir"`
	StorageDir     string        `mapstructure:"storage_dir"`
}

// ValidationConfig carries the parameter policy applied to workflow configs.
type ValidationConfig struct {
	AllowedModels  []string `mapstructure:"allowed_models"`
	MaxTokensLimit int      `mapstructure:"max_tokens_limit"`
	TemperatureMax float64  `mapstructure:"temperature_max"`
}

type MetricsConfig struct {
	DBPath          string `mapstructure:"db_path"`
	RetentionLimit  int    `mapstructure:"retention_limit"`
	StaleAgeHours   int    `mapstructure:"stale_age_hours"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type ToolsConfig struct {
	CallsPerMinute int               `mapstructure:"calls_per_minute"`
	BurstSize      int               `mapstructure:"burst_size"`
	MaxConcurrent  int               `mapstructure:"max_concurrent"`
	CallTimeout    time.Duration     `mapstructure:"call_timeout"`
	MCPServers     []MCPServerConfig `mapstructure:"mcp_servers"`
}

// MCPServerConfig describes one MCP server whose tools are exposed to
// tool_call steps. Command servers speak stdio; URL servers speak
// streamable HTTP.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Command []string          `mapstructure:"command"`
	URL     string            `mapstructure:"url"`
	Env     map[string]string `mapstructure:"env"`
}

type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	home := os.Getenv("CHATTERFLOW_HOME")
	if home == "" {
		home = "~/.chatterflow"
	}
	home = expandHomePath(home)

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else {
		// Check order:
		// 1. ./chatterflow.toml
		// 2. ~/.chatterflow/chatterflow.toml
		if _, err := os.Stat("chatterflow.toml"); err == nil {
			abs, _ := filepath.Abs("chatterflow.toml")
			viper.SetConfigFile(abs)
			home = filepath.Dir(abs)
		} else {
			viper.SetConfigFile(filepath.Join(home, "chatterflow.toml"))
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Missing default config is fine; defaults apply.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Home == "" {
		config.Home = home
	}
	config.Home = expandHomePath(config.Home)
	config.resolveMetricsDBPath()
	config.expandPaths()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("executor.max_parallel", 5)
	viper.SetDefault("executor.default_timeout", "5m")
	viper.SetDefault("executor.snapshot_dir", "")
	viper.SetDefault("executor.storage_dir", "")

	viper.SetDefault("validation.allowed_models", []string{
		"gpt-4", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo",
		"claude-3-opus", "claude-3-sonnet", "claude-3-haiku",
		"llama3", "qwen3",
	})
	viper.SetDefault("validation.max_tokens_limit", 32768)
	viper.SetDefault("validation.temperature_max", 1.0)

	viper.SetDefault("metrics.retention_limit", 1000)
	viper.SetDefault("metrics.stale_age_hours", 24)
	viper.SetDefault("metrics.cleanup_schedule", "@hourly")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 2048)

	viper.SetDefault("tools.calls_per_minute", 60)
	viper.SetDefault("tools.burst_size", 10)
	viper.SetDefault("tools.max_concurrent", 3)
	viper.SetDefault("tools.call_timeout", "30s")
}

func bindEnvVars() {
	viper.SetEnvPrefix("CHATTERFLOW")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	binds := map[string]string{
		"home":                    "CHATTERFLOW_HOME",
		"executor.max_parallel":   "CHATTERFLOW_EXECUTOR_MAX_PARALLEL",
		"executor.default_timeout": "CHATTERFLOW_EXECUTOR_DEFAULT_TIMEOUT",
		"metrics.db_path":         "CHATTERFLOW_METRICS_DB_PATH",
		"llm.base_url":            "CHATTERFLOW_LLM_BASE_URL",
		"llm.api_key":             "CHATTERFLOW_LLM_API_KEY",
		"llm.model":               "CHATTERFLOW_LLM_MODEL",
	}
	for key, env := range binds {
		if err := viper.BindEnv(key, env); err != nil {
			log.Warnf("failed to bind %s env var: %v", key, err)
		}
	}
}

// DataDir returns the path to the data directory.
func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

// WorkflowsDir returns the path where workflow definitions and results
// are kept by the CLI.
func (c *Config) WorkflowsDir() string {
	return filepath.Join(c.Home, "workflows")
}

func (c *Config) Validate() error {
	if c.Executor.MaxParallel <= 0 {
		return fmt.Errorf("executor max_parallel must be positive: %d", c.Executor.MaxParallel)
	}

	if c.Executor.DefaultTimeout < 0 {
		return fmt.Errorf("executor default_timeout must be non-negative: %v", c.Executor.DefaultTimeout)
	}

	if c.Validation.MaxTokensLimit <= 0 {
		return fmt.Errorf("validation max_tokens_limit must be positive: %d", c.Validation.MaxTokensLimit)
	}

	if c.Validation.TemperatureMax <= 0 {
		return fmt.Errorf("validation temperature_max must be positive: %f", c.Validation.TemperatureMax)
	}

	if c.Metrics.RetentionLimit < 0 {
		return fmt.Errorf("metrics retention_limit must be non-negative: %d", c.Metrics.RetentionLimit)
	}

	if c.Metrics.StaleAgeHours <= 0 {
		return fmt.Errorf("metrics stale_age_hours must be positive: %d", c.Metrics.StaleAgeHours)
	}

	validProviders := map[string]bool{"openai": true, "mock": true, "": true}
	if !validProviders[strings.ToLower(c.LLM.Provider)] {
		return fmt.Errorf("invalid llm provider: %s (supported: openai, mock)", c.LLM.Provider)
	}

	if c.Tools.CallsPerMinute < 0 {
		return fmt.Errorf("tools calls_per_minute must be non-negative: %d", c.Tools.CallsPerMinute)
	}

	if c.Tools.MaxConcurrent < 0 {
		return fmt.Errorf("tools max_concurrent must be non-negative: %d", c.Tools.MaxConcurrent)
	}

	for i, server := range c.Tools.MCPServers {
		if server.Name == "" {
			return fmt.Errorf("mcp server at index %d has no name", i)
		}
		if len(server.Command) == 0 && server.URL == "" {
			return fmt.Errorf("mcp server %s needs a command or a url", server.Name)
		}
	}

	return nil
}

func (c *Config) resolveMetricsDBPath() {
	if c.Metrics.DBPath != "" {
		return
	}
	c.Metrics.DBPath = filepath.Join(c.DataDir(), "metrics.db")
}

func (c *Config) expandPaths() {
	c.Home = expandHomePath(c.Home)
	c.Metrics.DBPath = expandHomePath(c.Metrics.DBPath)
	c.Executor.SnapshotDir = expandHomePath(c.Executor.SnapshotDir)
	c.Executor.StorageDir = expandHomePath(c.Executor.StorageDir)
	c.Templates.Dir = expandHomePath(c.Templates.Dir)
	ensureParentDir(c.Metrics.DBPath)
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

func ensureParentDir(filePath string) {
	if filePath == "" {
		return
	}

	dir := filepath.Dir(filePath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warnf("failed to create directory %s: %v", dir, err)
		}
	}
}
