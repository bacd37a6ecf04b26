package chatterflow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chatter-ai/chatterflow/pkg/workflow"
)

// isStdoutTTY returns true if stdout is a terminal
func isStdoutTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

var (
	watchHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	watchOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	watchFailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	watchDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// runOutcome carries the executor's answer from the run goroutine to
// the UI.
type runOutcome struct {
	result *workflow.Result
	err    error
}

type tickMsg time.Time
type outcomeMsg runOutcome

type watchModel struct {
	def     *workflow.Definition
	snaps   workflow.SnapshotStore
	cancel  context.CancelFunc
	results <-chan runOutcome

	snap      *workflow.Snapshot
	outcome   *runOutcome
	started   time.Time
	cancelled bool
}

func newWatchModel(def *workflow.Definition, snaps workflow.SnapshotStore, cancel context.CancelFunc, results <-chan runOutcome) watchModel {
	return watchModel{
		def:     def,
		snaps:   snaps,
		cancel:  cancel,
		results: results,
		started: time.Now(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(watchTick(), waitForOutcome(m.results))
}

func watchTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForOutcome(results <-chan runOutcome) tea.Cmd {
	return func() tea.Msg {
		return outcomeMsg(<-results)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			// Cancel the run and stay up until the executor settles;
			// the outcome message quits the program.
			m.cancelled = true
			m.cancel()
		}

	case tickMsg:
		if m.outcome != nil {
			return m, nil
		}
		m.snap = m.latestSnapshot()
		return m, watchTick()

	case outcomeMsg:
		out := runOutcome(msg)
		m.outcome = &out
		m.snap = m.latestSnapshot()
		return m, tea.Quit
	}

	return m, nil
}

// latestSnapshot polls the store for the freshest state. Snapshot
// stores may hold older runs; TakenAt picks the live one.
func (m watchModel) latestSnapshot() *workflow.Snapshot {
	snaps, err := m.snaps.ListSnapshots(context.Background())
	if err != nil || len(snaps) == 0 {
		return m.snap
	}
	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.TakenAt.After(latest.TakenAt) {
			latest = snap
		}
	}
	return latest
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Chatterflow Run Monitor") + "\n\n")
	b.WriteString(fmt.Sprintf("Workflow: %s (%d steps)\n", m.def.Name, len(m.def.Steps)))
	b.WriteString(fmt.Sprintf("Elapsed:  %s\n\n", time.Since(m.started).Round(100*time.Millisecond)))

	statuses := map[string]workflow.StepStatus{}
	if m.snap != nil {
		statuses = m.snap.StepStatuses
	}
	for _, step := range m.def.Steps {
		b.WriteString(fmt.Sprintf("  %s %s\n", stepGlyph(statuses[step.ID]), step.Name))
	}

	b.WriteString("\n")
	switch {
	case m.outcome != nil && m.outcome.err != nil:
		b.WriteString(watchFailStyle.Render(fmt.Sprintf("Rejected: %v", m.outcome.err)) + "\n")
	case m.outcome != nil && m.outcome.result.Failed():
		b.WriteString(watchFailStyle.Render(fmt.Sprintf("Failed with %d error(s).", len(m.outcome.result.Errors))) + "\n")
	case m.outcome != nil:
		b.WriteString(watchOKStyle.Render(fmt.Sprintf("Finished: %s", m.outcome.result.Status)) + "\n")
	case m.cancelled:
		b.WriteString(watchDimStyle.Render("Cancelling...") + "\n")
	default:
		b.WriteString(watchDimStyle.Render("Press 'q' to cancel.") + "\n")
	}
	return b.String()
}

func stepGlyph(status workflow.StepStatus) string {
	switch status {
	case workflow.StepCompleted:
		return watchOKStyle.Render("●")
	case workflow.StepFailed:
		return watchFailStyle.Render("✗")
	case workflow.StepRunning:
		return watchRunningStyle.Render("◐")
	case workflow.StepSkipped:
		return watchDimStyle.Render("⊘")
	default:
		return watchDimStyle.Render("○")
	}
}

// runWithWatch executes the workflow in the background while the
// bubbletea program renders snapshot progress, then prints the usual
// result output once the run settles.
func runWithWatch(ctx context.Context, cancel context.CancelFunc, executor *workflow.Executor, def *workflow.Definition, input map[string]any, snaps workflow.SnapshotStore) error {
	results := make(chan runOutcome, 1)
	go func() {
		result, err := executor.Execute(ctx, def, input)
		results <- runOutcome{result: result, err: err}
	}()

	p := tea.NewProgram(newWatchModel(def, snaps, cancel, results))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("error running watch UI: %w", err)
	}

	m, ok := final.(watchModel)
	if !ok || m.outcome == nil {
		// The UI went down without an outcome; wait for the run.
		out := <-results
		return finishRun(def, out.result, out.err)
	}
	return finishRun(def, m.outcome.result, m.outcome.err)
}
