package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultMaxToolRounds = 5

// ToolExecutor handles tool call execution with configurable behavior.
type ToolExecutor struct {
	handlers    map[string]ToolHandler
	maxRounds   int  // maximum tool call rounds
	parallel    bool // execute the calls of one round in parallel
	stopOnError bool // stop execution on first error

	validator *ToolValidator
	cache     *ToolCache
	retry     *RetryConfig

	totalCalls  atomic.Int64
	failedCalls atomic.Int64
	cachedCalls atomic.Int64
	totalNanos  atomic.Int64
}

// ExecutorMetrics summarizes the calls an executor has run.
type ExecutorMetrics struct {
	TotalCalls    int64
	FailedCalls   int64
	CachedCalls   int64
	TotalDuration time.Duration
}

// NewToolExecutor creates a tool executor with default settings.
func NewToolExecutor(handlers map[string]ToolHandler) *ToolExecutor {
	return &ToolExecutor{
		handlers:    handlers,
		maxRounds:   defaultMaxToolRounds,
		stopOnError: true,
	}
}

// WithMaxRounds sets the maximum number of tool call rounds.
func (te *ToolExecutor) WithMaxRounds(max int) *ToolExecutor {
	te.maxRounds = max
	return te
}

// WithParallel enables parallel execution of multiple tool calls.
func (te *ToolExecutor) WithParallel(parallel bool) *ToolExecutor {
	te.parallel = parallel
	return te
}

// WithStopOnError controls whether to stop on first error.
func (te *ToolExecutor) WithStopOnError(stop bool) *ToolExecutor {
	te.stopOnError = stop
	return te
}

// WithValidator checks arguments against the tools' schemas before calling
// a handler.
func (te *ToolExecutor) WithValidator(tools []Tool) *ToolExecutor {
	if len(tools) > 0 {
		te.validator = NewToolValidator(tools)
	}
	return te
}

// WithCache memoizes successful results by tool name and arguments.
func (te *ToolExecutor) WithCache(ttl time.Duration, maxSize int) *ToolExecutor {
	if maxSize <= 0 {
		maxSize = 100
	}
	te.cache = NewToolCache(ttl, maxSize)
	return te
}

// WithRetry wraps every handler with RetryableToolHandler.
func (te *ToolExecutor) WithRetry(cfg RetryConfig) *ToolExecutor {
	te.retry = &cfg
	return te
}

// Metrics returns a snapshot of the executor's counters.
func (te *ToolExecutor) Metrics() ExecutorMetrics {
	return ExecutorMetrics{
		TotalCalls:    te.totalCalls.Load(),
		FailedCalls:   te.failedCalls.Load(),
		CachedCalls:   te.cachedCalls.Load(),
		TotalDuration: time.Duration(te.totalNanos.Load()),
	}
}

// toolCallResult holds the result of a single tool invocation.
type toolCallResult struct {
	name   string
	result any
	err    error
	cached bool
}

type toolCallRequest struct {
	name string
	args map[string]any
}

// executeBatch runs multiple tool calls, respecting parallel/serial execution mode.
func (te *ToolExecutor) executeBatch(ctx context.Context, calls []toolCallRequest) ([]toolCallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if te.parallel {
		return te.executeParallel(ctx, calls)
	}
	return te.executeSerial(ctx, calls)
}

// executeSingleCall validates, looks up the cache and runs one handler.
func (te *ToolExecutor) executeSingleCall(ctx context.Context, call toolCallRequest) (toolCallResult, error) {
	te.totalCalls.Add(1)
	start := time.Now()
	defer func() { te.totalNanos.Add(int64(time.Since(start))) }()

	fail := func(err error) (toolCallResult, error) {
		te.failedCalls.Add(1)
		return toolCallResult{name: call.name, err: err}, err
	}

	handler, ok := te.handlers[call.name]
	if !ok {
		return fail(fmt.Errorf("no handler for tool %q", call.name))
	}
	if te.validator != nil {
		if err := te.validator.ValidateCall(call.name, call.args); err != nil {
			return fail(fmt.Errorf("tool %q: %w", call.name, err))
		}
	}
	if te.cache != nil {
		if res, err, hit := te.cache.Get(call.name, call.args); hit {
			te.cachedCalls.Add(1)
			return toolCallResult{name: call.name, result: res, err: err, cached: true}, err
		}
	}
	if te.retry != nil {
		handler = RetryableToolHandler(handler, *te.retry)
	}

	result, err := handler(ctx, call.args)
	if err != nil {
		return fail(fmt.Errorf("tool %q failed: %w", call.name, err))
	}
	if te.cache != nil {
		te.cache.Set(call.name, call.args, result, nil)
	}
	return toolCallResult{name: call.name, result: result}, nil
}

func (te *ToolExecutor) executeSerial(ctx context.Context, calls []toolCallRequest) ([]toolCallResult, error) {
	results := make([]toolCallResult, len(calls))
	for i, call := range calls {
		res, err := te.executeSingleCall(ctx, call)
		results[i] = res
		if err != nil && te.stopOnError {
			return results, err
		}
	}
	return results, nil
}

func (te *ToolExecutor) executeParallel(ctx context.Context, calls []toolCallRequest) ([]toolCallResult, error) {
	results := make([]toolCallResult, len(calls))

	// With stopOnError the first failure cancels the remaining calls.
	g, gctx := errgroup.WithContext(ctx)
	if !te.stopOnError {
		gctx = ctx
	}
	for i, call := range calls {
		g.Go(func() error {
			res, err := te.executeSingleCall(gctx, call)
			results[i] = res
			if te.stopOnError {
				return err
			}
			return nil
		})
	}
	return results, g.Wait()
}
