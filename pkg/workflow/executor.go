package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatter-ai/chatterflow/pkg/llm"
	"github.com/chatter-ai/chatterflow/pkg/log"
	"github.com/chatter-ai/chatterflow/pkg/metrics"
	"github.com/chatter-ai/chatterflow/pkg/tool"
)

const (
	defaultMaxParallel = 4
	retryBaseDelay     = 100 * time.Millisecond
)

// Executor runs workflow definitions. Zero-value construction is not
// supported; use NewExecutor so the handler table and defaults are
// wired.
type Executor struct {
	validator   *WorkflowValidator
	handlers    map[StepType]stepHandler
	llm         llm.Client
	tools       tool.Executor
	snapshots   SnapshotStore
	collector   *metrics.Collector
	counter     *metrics.TokenCounter
	maxParallel int
	logger      *slog.Logger
	now         func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLLMClient sets the client llm_call steps generate through.
func WithLLMClient(client llm.Client) ExecutorOption {
	return func(e *Executor) { e.llm = client }
}

// WithToolExecutor sets the executor tool_call steps delegate to.
func WithToolExecutor(tools tool.Executor) ExecutorOption {
	return func(e *Executor) { e.tools = tools }
}

// WithSnapshotStore enables state snapshots after every step.
func WithSnapshotStore(store SnapshotStore) ExecutorOption {
	return func(e *Executor) { e.snapshots = store }
}

// WithCollector enables metrics tracking. The collector issues the run
// id, so Result.WorkflowID matches the tracked metrics.
func WithCollector(c *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.collector = c }
}

// WithMaxParallel bounds concurrent steps within a parallel group.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithLogger overrides the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithValidator overrides the pre-run validator, so policy limits
// (models, temperature, token caps) follow the caller's configuration.
func WithValidator(v *WorkflowValidator) ExecutorOption {
	return func(e *Executor) {
		if v != nil {
			e.validator = v
		}
	}
}

// NewExecutor builds an executor with the full step handler table.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		validator:   NewWorkflowValidator(),
		counter:     metrics.NewTokenCounter(),
		maxParallel: defaultMaxParallel,
		logger:      log.WithModule("workflow"),
		now:         time.Now,
	}
	e.handlers = map[StepType]stepHandler{
		StepTypeInput:      e.runInputStep,
		StepTypeLLMCall:    e.runLLMCallStep,
		StepTypeCondition:  e.runConditionStep,
		StepTypeParallel:   e.runParallelStep,
		StepTypeLoop:       e.runLoopStep,
		StepTypeAggregator: e.runAggregatorStep,
		StepTypeToolCall:   e.runToolCallStep,
		StepTypeOutput:     e.runOutputStep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the mutable state of one Execute call. Parallel step
// goroutines touch it only through the mutex-guarded methods.
type run struct {
	def  *Definition
	ectx *Context

	mu       sync.Mutex
	result   *Result
	statuses map[string]StepStatus
	failed   bool
}

func (r *run) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *run) setStatus(step *Step, status StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[step.ID] = status
	step.Status = status
}

// skippedDependency returns the first dependency of step that was
// skipped, or "" when all dependencies ran.
func (r *run) skippedDependency(step *Step) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range step.Dependencies {
		if r.statuses[dep] == StepSkipped {
			return dep
		}
	}
	return ""
}

func (r *run) setData(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Data[key] = value
}

// Execute runs a workflow definition against the given input data.
//
// Validation failures surface as a returned error before anything
// runs. Once execution starts, failures are recorded in the result's
// error list and the call returns (result, nil): a failed run is an
// answer, not an error.
func (e *Executor) Execute(ctx context.Context, def *Definition, input map[string]any) (*Result, error) {
	if vr := e.validator.ValidateConfig(def); !vr.Valid {
		return nil, newValidationError(strings.Join(vr.Errors, "; "))
	}
	levels, err := executionLevels(def.Steps)
	if err != nil {
		return nil, newValidationError(err.Error())
	}

	ectx := NewContext(input)
	if e.collector != nil {
		ectx.WorkflowID = e.collector.StartTracking(def.WorkflowType())
	}

	started := e.now()
	ectx.StartedAt = started
	ectx.SetAll(def.Variables)

	r := &run{
		def:  def,
		ectx: ectx,
		result: &Result{
			WorkflowID: ectx.WorkflowID,
			Status:     StatusRunning,
			Data:       make(map[string]any),
			StartedAt:  started,
		},
		statuses: make(map[string]StepStatus, len(def.Steps)),
	}
	for _, step := range def.Steps {
		step.Status = StepPending
		step.StartedAt = nil
		step.CompletedAt = nil
		r.statuses[step.ID] = StepPending
	}

	runCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout.Std())
		defer cancel()
	}

	e.logger.Info("workflow started",
		"workflow_id", ectx.WorkflowID,
		"name", def.Name,
		"steps", len(def.Steps))

	for _, wave := range levels {
		if r.aborted() || runCtx.Err() != nil {
			break
		}
		for _, batch := range parallelGroups(wave) {
			if r.aborted() || runCtx.Err() != nil {
				break
			}
			if len(batch) == 1 {
				e.executeStep(runCtx, r, batch[0])
				continue
			}
			g, gctx := errgroup.WithContext(runCtx)
			g.SetLimit(e.maxParallel)
			for _, step := range batch {
				g.Go(func() error {
					e.executeStep(gctx, r, step)
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	e.finalize(ctx, runCtx, r)
	return r.result, nil
}

// executeStep runs one top-level step with status bookkeeping and a
// snapshot afterwards.
func (e *Executor) executeStep(ctx context.Context, r *run, step *Step) {
	defer e.takeSnapshot(ctx, r)

	if dep := r.skippedDependency(step); dep != "" {
		e.logger.Debug("step skipped", "step", step.ID, "skipped_dependency", dep)
		r.setStatus(step, StepSkipped)
		return
	}

	// Gating conditions read the live scope; placeholder resolution
	// never touches them.
	if step.Condition != "" {
		pass, err := EvalCondition(step.Condition, r.ectx.scope())
		if err != nil {
			e.fail(r, step, newConditionError(step.ID, "condition evaluation failed", err))
			return
		}
		if !pass {
			e.logger.Debug("step skipped", "step", step.ID, "condition", step.Condition)
			r.setStatus(step, StepSkipped)
			return
		}
	}

	startedAt := e.now()
	step.StartedAt = &startedAt
	r.setStatus(step, StepRunning)

	output, err := e.runStepOnce(ctx, r.ectx, step)

	completedAt := e.now()
	step.CompletedAt = &completedAt

	if err != nil {
		e.fail(r, step, e.classify(ctx, step, err))
		return
	}

	r.ectx.setOutput(step.ID, output)
	r.setData(step.ID, output)
	r.setStatus(step, StepCompleted)
	e.logger.Debug("step completed", "step", step.ID, "duration", completedAt.Sub(startedAt))
}

// runStepOnce resolves the step's config and dispatches to its
// handler, retrying per the step's retry config.
func (e *Executor) runStepOnce(ctx context.Context, ectx *Context, step *Step) (any, error) {
	resolved, err := resolveStepConfig(step, ectx.scope())
	if err != nil {
		return nil, newStepError(step.ID, "config resolution failed", err)
	}
	handler, ok := e.handlers[step.Type]
	if !ok {
		return nil, newStepError(step.ID, fmt.Sprintf("no handler for step type %q", step.Type), nil)
	}
	out, err := e.runAttempts(ctx, ectx, step, resolved, handler)
	if err != nil {
		return nil, err
	}
	applyOutputVar(ectx, resolved, out)
	return out, nil
}

// runAttempts invokes the handler up to 1+MaxRetries times, backing
// off between attempts by backoff factor against a 100ms base.
func (e *Executor) runAttempts(ctx context.Context, ectx *Context, step *Step, config map[string]any, handler stepHandler) (any, error) {
	maxRetries := 0
	backoff := 2.0
	if step.Retry != nil {
		maxRetries = step.Retry.MaxRetries
		if step.Retry.BackoffFactor > 0 {
			backoff = step.Retry.BackoffFactor
		}
	}

	var out any
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay
			for i := 1; i < attempt; i++ {
				delay = time.Duration(float64(delay) * backoff)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			e.logger.Debug("retrying step", "step", step.ID, "attempt", attempt+1, "delay", delay)
		}
		out, err = handler(ctx, ectx, step, config)
		if err == nil {
			return out, nil
		}
		e.logger.Warn("step attempt failed", "step", step.ID, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

// classify maps context expiry onto timeout and cancelled error kinds
// so failure records carry the real cause.
func (e *Executor) classify(ctx context.Context, step *Step, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return &ExecutionError{Kind: KindTimeout, StepID: step.ID, Message: "step timed out", Err: err}
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return &ExecutionError{Kind: KindCancelled, StepID: step.ID, Message: "workflow cancelled", Err: err}
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return newStepError(step.ID, "step execution failed", err)
}

// fail records a step failure. The first failure flips the run into
// failed state, which stops further scheduling.
func (e *Executor) fail(r *run, step *Step, err error) {
	r.mu.Lock()
	r.statuses[step.ID] = StepFailed
	step.Status = StepFailed
	r.failed = true
	r.result.addError(step.ID, err.Error(), e.now())
	r.mu.Unlock()

	if e.collector != nil {
		_ = e.collector.AddError(r.ectx.WorkflowID, err.Error())
	}
	e.logger.Error("step failed",
		"workflow_id", r.ectx.WorkflowID,
		"step", step.ID,
		"error", err)
}

// finalize settles the run status, closes out metrics, and takes the
// last snapshot. Cancellation by the caller wins over failures; a
// timeout that fired between steps still records an error.
func (e *Executor) finalize(parent, runCtx context.Context, r *run) {
	now := e.now()
	cancelled := parent.Err() == context.Canceled
	timedOut := !cancelled && runCtx.Err() == context.DeadlineExceeded

	var lateErr string
	r.mu.Lock()
	if timedOut && !hasErrorContaining(r.result.Errors, "timed out") {
		lateErr = fmt.Sprintf("workflow timed out after %s", r.def.Timeout)
		r.result.addError("", lateErr, now)
	}
	if cancelled && !hasErrorContaining(r.result.Errors, "cancelled") {
		lateErr = "workflow cancelled"
		r.result.addError("", lateErr, now)
	}
	switch {
	case cancelled:
		r.result.Status = StatusCancelled
	case len(r.result.Errors) > 0:
		r.result.Status = StatusFailed
	default:
		r.result.Status = StatusCompleted
	}
	r.result.CompletedAt = &now
	status := r.result.Status
	errCount := len(r.result.Errors)
	r.mu.Unlock()

	r.ectx.CompletedAt = &now

	if e.collector != nil {
		if lateErr != "" {
			_ = e.collector.AddError(r.ectx.WorkflowID, lateErr)
		}
		if m, err := e.collector.FinishTracking(r.ectx.WorkflowID); err == nil {
			r.result.Metrics = m
		}
	}

	e.takeSnapshot(parent, r)
	e.logger.Info("workflow finished",
		"workflow_id", r.ectx.WorkflowID,
		"status", status,
		"errors", errCount,
		"duration", now.Sub(r.result.StartedAt))
}

// takeSnapshot persists the current run state when a snapshot store is
// wired. Snapshot failures are logged, never fatal.
func (e *Executor) takeSnapshot(ctx context.Context, r *run) {
	if e.snapshots == nil {
		return
	}

	r.mu.Lock()
	statuses := make(map[string]StepStatus, len(r.statuses))
	var completed []string
	for _, step := range r.def.Steps {
		st, ok := r.statuses[step.ID]
		if !ok {
			continue
		}
		statuses[step.ID] = st
		if st == StepCompleted {
			completed = append(completed, step.ID)
		}
	}
	status := r.result.Status
	r.mu.Unlock()

	snap := &Snapshot{
		WorkflowID:   r.ectx.WorkflowID,
		TakenAt:      e.now(),
		Status:       status,
		StepStatuses: statuses,
		Variables:    r.ectx.Variables(),
		Completed:    completed,
	}
	if err := e.snapshots.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn("failed to save snapshot", "workflow_id", r.ectx.WorkflowID, "error", err)
	}
}

func hasErrorContaining(records []ErrorRecord, substr string) bool {
	for _, rec := range records {
		if strings.Contains(rec.Message, substr) {
			return true
		}
	}
	return false
}
