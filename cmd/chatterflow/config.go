package chatterflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatterflow configuration",
}

var (
	configForce bool
	configPath  string
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Init creates a chatterflow.toml with the default settings so you can
customize them. Nothing is overwritten unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = "chatterflow.toml"
		}

		if !configForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
			}
		}

		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		if err := os.WriteFile(path, []byte(defaultConfigTOML), 0644); err != nil {
			return fmt.Errorf("failed to write configuration file: %w", err)
		}

		fmt.Printf("✅ Configuration file created at: %s\n", path)
		fmt.Println("\n📝 Customize it, then point chatterflow at it:")
		fmt.Printf("   chatterflow --config %s run workflow.yaml\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show prints the configuration after defaults, the config file and
environment overrides are applied. The API key is never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey := ""
		if cfg.LLM.APIKey != "" {
			apiKey = "(set)"
		}

		fmt.Printf("home = %q\n\n", cfg.Home)

		fmt.Println("[executor]")
		fmt.Printf("max_parallel = %d\n", cfg.Executor.MaxParallel)
		fmt.Printf("default_timeout = \"%s\"\n", cfg.Executor.DefaultTimeout)
		fmt.Printf("snapshot_dir = %q\n", cfg.Executor.SnapshotDir)
		fmt.Printf("storage_dir = %q\n\n", cfg.Executor.StorageDir)

		fmt.Println("[validation]")
		fmt.Printf("allowed_models = [%s]\n", quoteJoin(cfg.Validation.AllowedModels))
		fmt.Printf("max_tokens_limit = %d\n", cfg.Validation.MaxTokensLimit)
		fmt.Printf("temperature_max = %.2f\n\n", cfg.Validation.TemperatureMax)

		fmt.Println("[metrics]")
		fmt.Printf("db_path = %q\n", cfg.Metrics.DBPath)
		fmt.Printf("retention_limit = %d\n", cfg.Metrics.RetentionLimit)
		fmt.Printf("stale_age_hours = %d\n", cfg.Metrics.StaleAgeHours)
		fmt.Printf("cleanup_schedule = %q\n\n", cfg.Metrics.CleanupSchedule)

		fmt.Println("[llm]")
		fmt.Printf("provider = %q\n", cfg.LLM.Provider)
		fmt.Printf("model = %q\n", cfg.LLM.Model)
		fmt.Printf("base_url = %q\n", cfg.LLM.BaseURL)
		fmt.Printf("api_key = %q\n", apiKey)
		fmt.Printf("temperature = %.2f\n", cfg.LLM.Temperature)
		fmt.Printf("max_tokens = %d\n\n", cfg.LLM.MaxTokens)

		fmt.Println("[tools]")
		fmt.Printf("calls_per_minute = %d\n", cfg.Tools.CallsPerMinute)
		fmt.Printf("burst_size = %d\n", cfg.Tools.BurstSize)
		fmt.Printf("max_concurrent = %d\n", cfg.Tools.MaxConcurrent)
		fmt.Printf("call_timeout = \"%s\"\n", cfg.Tools.CallTimeout)
		for _, server := range cfg.Tools.MCPServers {
			fmt.Println("\n[[tools.mcp_servers]]")
			fmt.Printf("name = %q\n", server.Name)
			if len(server.Command) > 0 {
				fmt.Printf("command = [%s]\n", quoteJoin(server.Command))
			}
			if server.URL != "" {
				fmt.Printf("url = %q\n", server.URL)
			}
		}

		fmt.Println("\n[templates]")
		fmt.Printf("dir = %q\n", cfg.Templates.Dir)
		return nil
	},
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return strings.Join(quoted, ", ")
}

const defaultConfigTOML = `# Chatterflow configuration file
# Values shown are the defaults. CHATTERFLOW_* environment variables
# override file settings, e.g. CHATTERFLOW_LLM_API_KEY.

[executor]
max_parallel = 5
default_timeout = "5m"
# Persist run snapshots for inspection across processes:
# snapshot_dir = "~/.chatterflow/snapshots"
# Archive definitions and results of finished runs as JSON:
# storage_dir = "~/.chatterflow/runs"

[validation]
allowed_models = [
  "gpt-4", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo",
  "claude-3-opus", "claude-3-sonnet", "claude-3-haiku",
  "llama3", "qwen3",
]
max_tokens_limit = 32768
temperature_max = 1.0

[metrics]
# db_path = "~/.chatterflow/data/metrics.db"
retention_limit = 1000
stale_age_hours = 24
cleanup_schedule = "@hourly"

[llm]
provider = "openai"  # openai or mock
model = "gpt-4o"
# base_url = ""
# api_key = ""
temperature = 0.7
max_tokens = 2048

[tools]
calls_per_minute = 60
burst_size = 10
max_concurrent = 3
call_timeout = "30s"

# [[tools.mcp_servers]]
# name = "filesystem"
# command = ["npx", "-y", "@modelcontextprotocol/server-filesystem", "/tmp"]

[templates]
# dir = "~/.chatterflow/templates"
`

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite existing configuration file")
	configInitCmd.Flags().StringVarP(&configPath, "output", "o", "", "output path for configuration file (default: chatterflow.toml)")
}
