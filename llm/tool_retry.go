package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig configures retry behavior for tool execution.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// RetryableErrors limits retries to errors matching one of these via
	// errors.Is. When empty, only deadline errors are retried.
	RetryableErrors []error
}

// DefaultRetryConfig retries three times with exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        10 * time.Second,
	BackoffMultiplier: 2.0,
}

// ErrRetriesExhausted wraps the last error once MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("llm: retry attempts exhausted")

// RetryableToolHandler wraps a tool handler with retry logic.
func RetryableToolHandler(handler ToolHandler, config RetryConfig) ToolHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return func(ctx context.Context, args map[string]any) (any, error) {
		var lastErr error
		for attempt := 0; attempt < config.MaxAttempts; attempt++ {
			result, err := handler(ctx, args)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if !isRetryable(err, config.RetryableErrors) {
				return nil, err
			}
			if attempt == config.MaxAttempts-1 {
				break
			}
			t := time.NewTimer(calculateBackoff(attempt, config))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, config.MaxAttempts, lastErr)
	}
}

func isRetryable(err error, retryable []error) bool {
	if len(retryable) == 0 {
		return errors.Is(err, context.DeadlineExceeded)
	}
	for _, r := range retryable {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	mult := config.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := float64(config.InitialBackoff) * math.Pow(mult, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
