package llm

import (
	"context"
	"time"
)

// providerClient is the internal interface each backend implements.
type providerClient interface {
	// Text executes one request according to the given call plan.
	Text(ctx context.Context, plan callPlan) (callResult, error)
	// Stream executes a streaming request, reporting text, usage and tool
	// calls to sink. Tool rounds are re-issued until the model stops asking.
	Stream(ctx context.Context, plan callPlan, sink streamSink) error
}

// streamSink receives the output of a provider stream.
type streamSink interface {
	chunk(text string)
	usage(u StreamUsage)
	// runTools reports calls and returns one result per call, in order.
	runTools(calls []StreamToolCall) ([]StreamToolResult, error)
}

// callPlan is a normalized, provider-agnostic instruction set built from a
// TextRequest or StreamRequest.
type callPlan struct {
	Provider Provider
	Model    string

	System   string
	Messages []Message
	Input    string
	Images   []Image

	Temperature     *float32
	MaxOutputTokens *int
	Labels          map[string]string

	// Structured JSON
	ResponseSchema map[string]any
	SchemaName     string
	Structured     bool

	// Tool calling
	Tools        []Tool
	ToolHandlers map[string]ToolHandler

	MaxToolRounds   *int
	ParallelTools   *bool
	StopOnToolError *bool

	ToolCacheTTL     time.Duration
	ToolCacheMaxSize int
	ToolRetryConfig  *RetryConfig

	IncludeUsage bool
}

func (p callPlan) maxRounds() int {
	if p.MaxToolRounds != nil && *p.MaxToolRounds > 0 {
		return *p.MaxToolRounds
	}
	return defaultMaxToolRounds
}

// executor builds a ToolExecutor configured from the plan.
func (p callPlan) executor() *ToolExecutor {
	te := NewToolExecutor(p.ToolHandlers).
		WithMaxRounds(p.maxRounds()).
		WithValidator(p.Tools)
	if p.ParallelTools != nil {
		te.WithParallel(*p.ParallelTools)
	}
	if p.StopOnToolError != nil {
		te.WithStopOnError(*p.StopOnToolError)
	}
	if p.ToolCacheTTL > 0 {
		te.WithCache(p.ToolCacheTTL, p.ToolCacheMaxSize)
	}
	if p.ToolRetryConfig != nil {
		te.WithRetry(*p.ToolRetryConfig)
	}
	return te
}

// callResult is the provider-agnostic result of one call execution.
type callResult struct {
	Text string
	JSON map[string]any

	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int

	// toolRounds counts the tool rounds executed before the final answer.
	toolRounds int
}
