package chatterflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatter-ai/chatterflow/internal/scheduler"
	"github.com/chatter-ai/chatterflow/pkg/llm"
	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/metrics"
	"github.com/chatter-ai/chatterflow/pkg/tool"
	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

var (
	runMock    bool
	runInputs  []string
	runTimeout time.Duration
	runOutput  string
	runWatch   bool
)

var runCmd = &cobra.Command{
	Use:   "run [workflow file]",
	Short: "Execute a workflow definition",
	Long: `Run executes a workflow definition file (JSON or YAML) and prints the
result. Initial data is supplied with repeated --input key=value
flags; values that parse as numbers, booleans or JSON are passed
through typed.

With --watch and an interactive terminal, step progress is rendered
live while the workflow runs.

Examples:
  chatterflow run support.yaml --input message="my order is late"
  chatterflow run support.yaml --mock --output json
  chatterflow run pipeline.yaml --watch --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().BoolVar(&runMock, "mock", false, "use the mock LLM client instead of the configured provider")
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "initial workflow data as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run timeout (default: executor.default_timeout)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "output format: text or json")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "render live progress while the workflow runs")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	if runOutput != "text" && runOutput != "json" {
		return fmt.Errorf("invalid output format %q (supported: text, json)", runOutput)
	}

	def, err := workflow.LoadDefinition(args[0])
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	input, err := parseKeyValues(runInputs)
	if err != nil {
		return err
	}

	client, err := buildLLMClient()
	if err != nil {
		return err
	}

	timeout := runTimeout
	if timeout <= 0 {
		timeout = cfg.Executor.DefaultTimeout
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	toolExec, closeTools, err := buildToolExecutor(ctx)
	if err != nil {
		return err
	}
	defer closeTools()

	collector, closeStore, err := buildCollector()
	if err != nil {
		return err
	}
	defer closeStore()

	snapshots, err := buildSnapshotStore()
	if err != nil {
		return err
	}

	executor := workflow.NewExecutor(
		workflow.WithLLMClient(client),
		workflow.WithToolExecutor(toolExec),
		workflow.WithCollector(collector),
		workflow.WithSnapshotStore(snapshots),
		workflow.WithMaxParallel(cfg.Executor.MaxParallel),
		workflow.WithValidator(workflow.NewWorkflowValidatorWithPolicy(policyFromConfig())),
	)

	if runWatch && runOutput == "text" && isStdoutTTY() {
		// Keep executor logs from tearing the live view.
		if !verbose {
			log.SetQuiet(true)
		}
		return runWithWatch(ctx, cancel, executor, def, input, snapshots)
	}

	result, err := executor.Execute(ctx, def, input)
	return finishRun(def, result, err)
}

// finishRun prints the outcome and maps workflow failure onto a
// non-zero exit. A nil error with a failed result is still a failure
// to the shell.
func finishRun(def *workflow.Definition, result *workflow.Result, err error) error {
	if err != nil {
		return fmt.Errorf("workflow rejected: %w", err)
	}

	saveRun(def, result)

	if runOutput == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printResultText(def, result)
	}

	switch {
	case result.Status == workflow.StatusCancelled:
		return fmt.Errorf("workflow cancelled")
	case result.Failed():
		return fmt.Errorf("workflow failed with %d error(s)", len(result.Errors))
	}
	return nil
}

func printResultText(def *workflow.Definition, result *workflow.Result) {
	var duration time.Duration
	if result.CompletedAt != nil {
		duration = result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond)
	}

	switch result.Status {
	case workflow.StatusCompleted:
		fmt.Printf("✅ %s completed in %s\n", def.Name, duration)
	case workflow.StatusCancelled:
		fmt.Printf("⏹ %s cancelled after %s\n", def.Name, duration)
	default:
		fmt.Printf("❌ %s failed after %s\n", def.Name, duration)
	}

	fmt.Println("\nSteps:")
	for _, step := range def.Steps {
		fmt.Printf("  %-10s %s (%s)\n", step.Status, step.Name, step.Type)
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, rec := range result.Errors {
			if rec.StepID != "" {
				fmt.Printf("  - [%s] %s\n", rec.StepID, rec.Message)
			} else {
				fmt.Printf("  - %s\n", rec.Message)
			}
		}
	}

	if len(result.Data) > 0 {
		if data, err := json.MarshalIndent(result.Data, "", "  "); err == nil {
			fmt.Printf("\nData:\n%s\n", data)
		}
	}

	if m := result.Metrics; m != nil {
		total := 0
		for _, n := range m.TokenUsage {
			total += n
		}
		fmt.Printf("\nRun %s: %d tool call(s), %d token(s)\n", m.WorkflowID, m.ToolCalls, total)
	}
}

// saveRun archives the definition and result as JSON when a storage
// dir is configured. Archiving is best effort: a full disk should not
// turn a finished run into a failed command.
func saveRun(def *workflow.Definition, result *workflow.Result) {
	if cfg.Executor.StorageDir == "" {
		return
	}

	storage, err := workflow.NewFileStorage(cfg.Executor.StorageDir)
	if err != nil {
		log.Warnf("skipping run archive: %v", err)
		return
	}
	defer func() { _ = storage.Close() }()

	ctx := context.Background()
	if err := storage.SaveDefinition(ctx, def); err != nil {
		log.Warnf("failed to archive workflow definition: %v", err)
	}
	if err := storage.SaveResult(ctx, result); err != nil {
		log.Warnf("failed to archive run result: %v", err)
	}
	log.Debugf("run archived under %s", cfg.Executor.StorageDir)
}

func buildLLMClient() (llm.Client, error) {
	if runMock || strings.EqualFold(cfg.LLM.Provider, "mock") {
		return llm.NewMockClient(), nil
	}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no LLM API key configured; set llm.api_key, export OPENAI_API_KEY, or pass --mock")
	}

	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
}

// buildToolExecutor registers the builtin tools plus every reachable
// MCP server. Unreachable servers are skipped with a warning so a
// local run does not hinge on remote availability.
func buildToolExecutor(ctx context.Context) (tool.Executor, func(), error) {
	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry); err != nil {
		return nil, nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	var sources []*tool.MCPSource
	for _, server := range cfg.Tools.MCPServers {
		source, err := tool.NewMCPSource(tool.MCPConfig{
			Name:    server.Name,
			Command: server.Command,
			URL:     server.URL,
			Env:     server.Env,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("invalid MCP server %s: %w", server.Name, err)
		}
		if err := source.Connect(ctx); err != nil {
			log.Warnf("skipping MCP server %s: %v", server.Name, err)
			continue
		}
		count, err := source.RegisterTools(ctx, registry)
		if err != nil {
			log.Warnf("failed to register tools from %s: %v", server.Name, err)
			_ = source.Close()
			continue
		}
		log.Debugf("registered %d tools from MCP server %s", count, server.Name)
		sources = append(sources, source)
	}

	cleanup := func() {
		for _, source := range sources {
			_ = source.Close()
		}
	}

	executor := tool.NewDefaultExecutor(registry, tool.ExecutorConfig{
		CallsPerMinute: cfg.Tools.CallsPerMinute,
		BurstSize:      cfg.Tools.BurstSize,
		MaxConcurrent:  cfg.Tools.MaxConcurrent,
		CallTimeout:    cfg.Tools.CallTimeout,
	})
	return executor, cleanup, nil
}

func buildCollector() (*metrics.Collector, func(), error) {
	opts := []metrics.CollectorOption{
		metrics.WithRetentionLimit(cfg.Metrics.RetentionLimit),
	}
	closeStore := func() {}

	if cfg.Metrics.DBPath != "" {
		store, err := metrics.NewSQLiteStore(cfg.Metrics.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open metrics store: %w", err)
		}
		opts = append(opts, metrics.WithStore(store))
		closeStore = func() { _ = store.Close() }
	}

	collector := metrics.NewCollector(opts...)

	// Long runs (watch mode, large loops) can outlive the sweep
	// interval; short runs still validate the schedule at startup.
	sweeperOpts := []scheduler.SweeperOption{
		scheduler.WithSchedule(cfg.Metrics.CleanupSchedule),
	}
	if cfg.Metrics.StaleAgeHours > 0 {
		sweeperOpts = append(sweeperOpts, scheduler.WithMaxAge(time.Duration(cfg.Metrics.StaleAgeHours)*time.Hour))
	}
	sweeper, err := scheduler.NewSweeper(collector, sweeperOpts...)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("invalid metrics cleanup schedule: %w", err)
	}
	sweeper.Start()

	cleanup := func() {
		sweeper.Stop()
		closeStore()
	}
	return collector, cleanup, nil
}

func buildSnapshotStore() (workflow.SnapshotStore, error) {
	if cfg.Executor.SnapshotDir != "" {
		return workflow.NewFileSnapshotStore(cfg.Executor.SnapshotDir)
	}
	return workflow.NewMemorySnapshotStore(), nil
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair: %q", pair)
		}
		out[key] = coerceValue(value)
	}
	return out, nil
}

// coerceValue turns a flag string into the type workflow configs
// expect: booleans, numbers and JSON literals pass through typed,
// everything else stays a string.
func coerceValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}
