// Package chatterflow wires the CLI: workflow validation and
// execution, template inspection, metrics reporting and configuration
// management.
package chatterflow

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatter-ai/chatterflow/pkg/config"
	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/validation"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	cfg     *config.Config
	version string = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "chatterflow",
	Short: "Chatterflow - conversational workflow engine",
	Long: `Chatterflow validates and executes conversational AI workflows:
directed graphs of LLM calls, tool calls, conditions, loops and
parallel groups, with templates for common chat patterns and metrics
for every run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetDebug(true)
		}
		if quiet {
			log.SetQuiet(true)
		}

		// Skip config loading for commands that don't need existing config
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the root cobra command for testing purposes.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetVersion sets the version for the CLI
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatterflow version %s\n", version)
	},
}

// policyFromConfig builds the parameter policy the validators and the
// template manager share from the loaded configuration.
func policyFromConfig() validation.Policy {
	return validation.Policy{
		TemperatureMax: cfg.Validation.TemperatureMax,
		MaxTokensLimit: cfg.Validation.MaxTokensLimit,
		AllowedModels:  cfg.Validation.AllowedModels,
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ~/.chatterflow/chatterflow.toml or ./chatterflow.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")
	RootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(validateCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(templatesCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(configCmd)
}
