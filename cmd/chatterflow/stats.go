package chatterflow

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatter-ai/chatterflow/pkg/metrics"
)

var (
	statsDB    string
	statsSince time.Duration
	statsType  string
	statsLimit int
	statsJSON  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workflow execution statistics",
	Long: `Stats summarizes persisted run metrics: totals, success rate, average
execution time and token usage by provider, plus the most recent runs.

Examples:
  chatterflow stats
  chatterflow stats --since 24h --type customer_support
  chatterflow stats --db ./data/metrics.db --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := statsDB
		if dbPath == "" {
			dbPath = cfg.Metrics.DBPath
		}

		store, err := metrics.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open metrics store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				fmt.Printf("Warning: failed to close metrics store: %v\n", closeErr)
			}
		}()

		ctx := context.Background()
		var since time.Time
		if statsSince > 0 {
			since = time.Now().Add(-statsSince)
		}

		summary, err := store.Summary(ctx, since)
		if err != nil {
			return fmt.Errorf("failed to summarize metrics: %w", err)
		}

		runs, err := store.ListMetrics(ctx, metrics.Filter{
			WorkflowType: statsType,
			Since:        since,
			Limit:        statsLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to list metrics: %w", err)
		}

		if statsJSON {
			return printJSON(struct {
				Summary *metrics.Summary   `json:"summary"`
				Runs    []*metrics.Metrics `json:"runs"`
			}{summary, runs})
		}

		fmt.Println("📊 Workflow Statistics")
		fmt.Println()
		fmt.Printf("Total runs:    %d\n", summary.TotalRuns)
		fmt.Printf("Success rate:  %.1f%%\n", summary.SuccessRate*100)
		avg := time.Duration(summary.AverageTimeMS * float64(time.Millisecond))
		fmt.Printf("Average time:  %s\n", avg.Round(time.Millisecond))

		if len(summary.TotalTokens) > 0 {
			providers := make([]string, 0, len(summary.TotalTokens))
			for provider := range summary.TotalTokens {
				providers = append(providers, provider)
			}
			sort.Strings(providers)
			fmt.Println("Tokens:")
			for _, provider := range providers {
				fmt.Printf("  %-12s %d\n", provider, summary.TotalTokens[provider])
			}
		}

		if len(runs) == 0 {
			return nil
		}

		fmt.Println("\nRecent runs:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintf(w, "ID\tTYPE\tOK\tDURATION\tSTARTED\n"); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for _, m := range runs {
			ok := "✅"
			if !m.Success {
				ok = "❌"
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(m.WorkflowID),
				m.WorkflowType,
				ok,
				m.ExecutionTime.Round(time.Millisecond),
				m.StartTime.Format("2006-01-02 15:04:05"),
			); err != nil {
				return fmt.Errorf("failed to write run row: %w", err)
			}
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statsCmd.Flags().StringVar(&statsDB, "db", "", "metrics database path (default: metrics.db_path from config)")
	statsCmd.Flags().DurationVar(&statsSince, "since", 0, "only include runs newer than this age, e.g. 24h")
	statsCmd.Flags().StringVar(&statsType, "type", "", "only include runs of this workflow type")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 20, "maximum number of recent runs to list")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}
