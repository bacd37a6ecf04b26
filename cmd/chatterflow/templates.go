package chatterflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/templates"
)

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"template"},
	Short:   "Inspect and use workflow templates",
	Long: `Templates are named parameter sets for common chat workflow types.
List the registered ones, inspect a single template, search by
keyword, or merge one with overrides into a ready workflow config.`,
}

var (
	templatesJSON  bool
	templateParams []string
	templateOutput string
)

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := newTemplateManager()
		list := manager.ListTemplates()

		if templatesJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No templates registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintf(w, "NAME\tTYPE\tVERSION\tTAGS\tDESCRIPTION\n"); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for _, t := range list {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				t.Name,
				t.WorkflowType,
				t.Version,
				strings.Join(t.Tags, ","),
				truncateText(t.Description, 60),
			); err != nil {
				return fmt.Errorf("failed to write template row: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}

		fmt.Printf("\nTotal: %d templates\n", len(list))
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show one template in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := newTemplateManager()
		t, err := manager.GetTemplate(args[0])
		if err != nil {
			return fmt.Errorf("failed to load template: %w", err)
		}

		if templatesJSON {
			return printJSON(t)
		}

		fmt.Printf("📋 %s", t.Name)
		if t.Version != "" {
			fmt.Printf(" (v%s)", t.Version)
		}
		fmt.Println()
		fmt.Printf("   Type: %s\n", t.WorkflowType)
		if t.Description != "" {
			fmt.Printf("   %s\n", t.Description)
		}
		if len(t.Tags) > 0 {
			fmt.Printf("   Tags: %s\n", strings.Join(t.Tags, ", "))
		}
		if len(t.RequiredTools) > 0 {
			fmt.Printf("   Required tools: %s\n", strings.Join(t.RequiredTools, ", "))
		}
		if len(t.RequiredRetrievers) > 0 {
			fmt.Printf("   Required retrievers: %s\n", strings.Join(t.RequiredRetrievers, ", "))
		}
		if versions := manager.Registry().Versions(t.Name); len(versions) > 1 {
			fmt.Printf("   Versions: %s\n", strings.Join(versions, ", "))
		}

		if len(t.DefaultParams) > 0 {
			data, err := json.MarshalIndent(t.DefaultParams, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal parameters: %w", err)
			}
			fmt.Printf("\nDefault parameters:\n%s\n", data)
		}
		return nil
	},
}

var templatesSuggestCmd = &cobra.Command{
	Use:   "suggest [query...]",
	Short: "Search templates by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		manager := newTemplateManager()

		suggestions := manager.Suggestions(query)
		if templatesJSON {
			return printJSON(suggestions)
		}
		if len(suggestions) == 0 {
			fmt.Printf("No templates match %q.\n", query)
			if names := manager.Registry().Names(); len(names) > 0 {
				fmt.Printf("💡 Available: %s\n", strings.Join(names, ", "))
			}
			return nil
		}

		fmt.Printf("Templates matching %q:\n\n", query)
		for i, s := range suggestions {
			fmt.Printf("%d. %s", i+1, s.Name)
			if s.Description != "" {
				fmt.Printf(" - %s", s.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var templatesCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Build a workflow config from a template",
	Long: `Create merges a template's default parameters with --param overrides
and prints the resulting workflow config. The config carries the
template's workflow_type and validates against the parameter policy.

Examples:
  chatterflow templates create customer_support
  chatterflow templates create research --param temperature=0.3 -o research.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseKeyValues(templateParams)
		if err != nil {
			return err
		}

		manager := newTemplateManager()
		config, err := manager.CreateWorkflowFromTemplate(args[0], params)
		if err != nil {
			return fmt.Errorf("failed to create workflow config: %w", err)
		}

		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal workflow config: %w", err)
		}

		if templateOutput != "" {
			if err := os.WriteFile(templateOutput, data, 0644); err != nil {
				return fmt.Errorf("failed to write workflow config: %w", err)
			}
			fmt.Printf("✅ Workflow config written to %s\n", templateOutput)
			return nil
		}

		fmt.Println(string(data))
		return nil
	},
}

// newTemplateManager builds a manager carrying the builtins plus any
// templates from the configured directory.
func newTemplateManager() *templates.Manager {
	manager := templates.NewManager(templates.WithPolicy(policyFromConfig()))
	if cfg.Templates.Dir != "" {
		count, err := templates.LoadDir(manager.Registry(), cfg.Templates.Dir)
		if err != nil {
			log.Warnf("failed to load templates from %s: %v", cfg.Templates.Dir, err)
		} else if count > 0 {
			log.Debugf("loaded %d templates from %s", count, cfg.Templates.Dir)
		}
	}
	return manager
}

func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if limit <= 3 {
		return text[:limit]
	}
	return text[:limit-3] + "..."
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesSuggestCmd)
	templatesCmd.AddCommand(templatesCreateCmd)

	templatesListCmd.Flags().BoolVar(&templatesJSON, "json", false, "output as JSON")
	templatesShowCmd.Flags().BoolVar(&templatesJSON, "json", false, "output as JSON")
	templatesSuggestCmd.Flags().BoolVar(&templatesJSON, "json", false, "output as JSON")
	templatesCreateCmd.Flags().StringArrayVarP(&templateParams, "param", "p", nil, "parameter override as key=value (repeatable)")
	templatesCreateCmd.Flags().StringVarP(&templateOutput, "output", "o", "", "write the config to a file instead of stdout")
}
