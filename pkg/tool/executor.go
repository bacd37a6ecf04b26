package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatter-ai/chatterflow/pkg/log"
)

// ExecutorConfig controls rate limiting, concurrency and retries for
// the default executor.
type ExecutorConfig struct {
	CallsPerMinute int           `json:"calls_per_minute"`
	BurstSize      int           `json:"burst_size"`
	MaxConcurrent  int           `json:"max_concurrent"`
	CallTimeout    time.Duration `json:"call_timeout"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
}

// DefaultExecutorConfig returns the executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CallsPerMinute: 60,
		BurstSize:      10,
		MaxConcurrent:  3,
		CallTimeout:    30 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     time.Second,
	}
}

// DefaultExecutor runs registry tools with rate limiting, bounded
// concurrency, per-call timeout and retries.
type DefaultExecutor struct {
	registry  *Registry
	limiter   *rate.Limiter
	semaphore chan struct{}
	config    ExecutorConfig
	logger    *slog.Logger

	mu       sync.Mutex
	calls    int
	failures int
	byTool   map[string]int
}

// NewDefaultExecutor creates an executor over the given registry.
func NewDefaultExecutor(registry *Registry, config ExecutorConfig) *DefaultExecutor {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultExecutorConfig().CallTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultExecutorConfig().RetryDelay
	}

	var limiter *rate.Limiter
	if config.CallsPerMinute > 0 {
		burst := config.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(config.CallsPerMinute)),
			burst,
		)
	}

	var semaphore chan struct{}
	if config.MaxConcurrent > 0 {
		semaphore = make(chan struct{}, config.MaxConcurrent)
	}

	return &DefaultExecutor{
		registry:  registry,
		limiter:   limiter,
		semaphore: semaphore,
		config:    config,
		logger:    log.WithModule("tool"),
		byTool:    make(map[string]int),
	}
}

// Execute runs a tool by name with retries around transient failures.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	start := time.Now()
	e.logger.Debug("starting tool execution", "tool", name)

	var result *Result
	var err error

	for attempt := 1; attempt <= e.config.RetryAttempts+1; attempt++ {
		result, err = e.executeOnce(ctx, name, args)
		if err == nil {
			break
		}
		if isNonRetryableError(err) {
			break
		}
		if attempt < e.config.RetryAttempts+1 {
			e.logger.Warn("tool execution failed, retrying",
				"tool", name, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(e.config.RetryDelay * time.Duration(attempt)):
				continue
			}
			break
		}
	}

	e.record(name, err)

	elapsed := time.Since(start)
	if err != nil {
		e.logger.Error("tool execution failed", "tool", name, "elapsed", elapsed, "error", err)
	} else {
		e.logger.Debug("tool execution completed", "tool", name, "elapsed", elapsed)
	}
	return result, err
}

func (e *DefaultExecutor) executeOnce(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if e.limiter != nil && !e.limiter.Allow() {
		return nil, ErrRateLimited
	}

	t, exists := e.registry.Get(name)
	if !exists {
		return nil, fmt.Errorf("tool %q %w", name, ErrToolNotFound)
	}

	if err := t.Validate(args); err != nil {
		return nil, fmt.Errorf("argument validation failed: %w", err)
	}

	if e.semaphore != nil {
		select {
		case e.semaphore <- struct{}{}:
			defer func() { <-e.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	callCtx := ctx
	if e.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
	}

	result, err := t.Execute(callCtx, args)
	if err != nil {
		return nil, fmt.Errorf("tool execution failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("tool %q returned nil result", name)
	}
	return result, nil
}

func (e *DefaultExecutor) record(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.byTool[name]++
	if err != nil {
		e.failures++
	}
}

// Stats returns call counters for the stats CLI.
func (e *DefaultExecutor) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	byTool := make(map[string]int, len(e.byTool))
	for name, count := range e.byTool {
		byTool[name] = count
	}
	return map[string]any{
		"total_calls":      e.calls,
		"failed_calls":     e.failures,
		"tool_usage_count": byTool,
	}
}

// isNonRetryableError reports whether an error should not be retried.
func isNonRetryableError(err error) bool {
	msg := err.Error()
	nonRetryablePatterns := []string{
		"not found",
		"validation failed",
		"invalid",
		"unauthorized",
		"forbidden",
	}
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
