package chatterflow

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

var (
	validateServices []string
	validateRole     string
	validateTools    []string
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow file]",
	Short: "Validate a workflow definition without running it",
	Long: `Validate checks a workflow definition file (JSON or YAML) against the
configured parameter policy: structure, step configs, dependency
references and condition syntax. With --role or --tools the declared
permissions are checked against that caller; with --services the
declared dependencies are checked against what is available.

All problems are reported in one pass.

Examples:
  chatterflow validate support.yaml
  chatterflow validate support.yaml --role editor --tools web_search
  chatterflow validate support.yaml --services llm,database`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := workflow.LoadDefinition(args[0])
		if err != nil {
			return fmt.Errorf("failed to load workflow: %w", err)
		}

		validator := workflow.NewWorkflowValidatorWithPolicy(policyFromConfig())

		result := validator.ValidateConfig(def)
		if validateRole != "" || len(validateTools) > 0 {
			perms := workflow.UserPermissions{Role: validateRole, Tools: validateTools}
			result.Merge(validator.ValidatePermissions(def, perms))
		}
		if cmd.Flags().Changed("services") {
			result.Merge(validator.ValidateDependencies(def, validateServices))
		}

		if result.Valid {
			fmt.Printf("✅ %s is valid (%d steps)\n", def.Name, len(def.Steps))
			return nil
		}

		fmt.Printf("❌ %s failed validation:\n", def.Name)
		for _, msg := range result.Errors {
			fmt.Printf("  - %s\n", msg)
		}
		return fmt.Errorf("%d validation error(s)", len(result.Errors))
	},
}

func init() {
	validateCmd.Flags().StringSliceVar(&validateServices, "services", nil, "available services for dependency checks (comma separated)")
	validateCmd.Flags().StringVar(&validateRole, "role", "", "caller role for permission checks (viewer, editor, admin)")
	validateCmd.Flags().StringSliceVar(&validateTools, "tools", nil, "tools the caller is allowed to use")
}
