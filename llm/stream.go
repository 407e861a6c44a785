package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stream executes a streaming text generation request. Events are delivered
// on the returned channel, which is closed after the terminal Done or Error
// event, or when ctx is canceled.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (*StreamResponse, error) {
	model, err := c.resolveModel(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	opts := req.StreamOptions
	if opts.BufferSize == 0 {
		opts.BufferSize = 100
	}

	streamCtx, cancel := context.WithCancel(ctx)
	events := make(chan StreamEvent, opts.BufferSize)

	so := &streamOrchestrator{
		ctx:      streamCtx,
		client:   c,
		req:      req,
		model:    model,
		opts:     opts,
		events:   events,
		cancel:   cancel,
		toolWait: make(map[string]chan any),
	}
	so.exec = so.plan().executor().
		WithParallel(opts.ToolExecutionMode == ToolExecutionParallel).
		WithStopOnError(false)

	go so.run()

	return &StreamResponse{
		Events:           events,
		Cancel:           cancel,
		SubmitToolResult: so.submitToolResult,
	}, nil
}

// streamOrchestrator manages the lifecycle of a stream and implements
// streamSink for the provider.
type streamOrchestrator struct {
	ctx    context.Context
	client *Client
	req    StreamRequest
	model  string
	opts   StreamOptions
	events chan StreamEvent
	cancel context.CancelFunc
	exec   *ToolExecutor

	toolWaitMu sync.Mutex
	toolWait   map[string]chan any
}

func (so *streamOrchestrator) plan() callPlan {
	rounds := so.opts.MaxToolRounds
	cfg := so.client.cfg
	return callPlan{
		Provider:         so.req.Provider,
		Model:            so.model,
		System:           so.req.System,
		Messages:         so.req.Messages,
		Input:            so.req.Input,
		Images:           so.req.Images,
		Temperature:      so.req.Temperature,
		MaxOutputTokens:  so.req.MaxOutputTokens,
		Tools:            so.req.Tools,
		ToolHandlers:     so.req.ToolHandlers,
		MaxToolRounds:    &rounds,
		ToolCacheTTL:     cfg.ToolCacheTTL,
		ToolCacheMaxSize: cfg.ToolCacheMaxSize,
		ToolRetryConfig:  cfg.ToolRetryConfig,
		IncludeUsage:     so.opts.IncludeUsage,
	}
}

func (so *streamOrchestrator) run() {
	defer close(so.events)
	defer so.cancel()

	pc, err := so.client.ensureProvider(so.req.Provider)
	if err != nil {
		so.sendError(err)
		return
	}

	if err := pc.Stream(so.ctx, so.plan(), so); err != nil {
		so.sendError(err)
		return
	}

	so.send(StreamEvent{Type: EventTypeDone})
}

func (so *streamOrchestrator) chunk(text string) {
	so.send(StreamEvent{Type: EventTypeChunk, Text: text})
}

func (so *streamOrchestrator) usage(u StreamUsage) {
	so.send(StreamEvent{Type: EventTypeUsage, Usage: &u})
}

func (so *streamOrchestrator) runTools(calls []StreamToolCall) ([]StreamToolResult, error) {
	pause := so.opts.ToolExecutionMode == ToolExecutionPause
	var waits []chan any
	if pause {
		waits = make([]chan any, len(calls))
		for i, tc := range calls {
			waits[i] = so.expectToolResult(tc.ID)
		}
		defer func() {
			for _, tc := range calls {
				so.forgetToolResult(tc.ID)
			}
		}()
	}
	for i := range calls {
		so.send(StreamEvent{Type: EventTypeToolCallRequest, ToolCall: &calls[i]})
	}

	results := make([]StreamToolResult, len(calls))
	if pause {
		for i, tc := range calls {
			select {
			case res := <-waits[i]:
				results[i] = StreamToolResult{ToolCallID: tc.ID, Name: tc.Name, Result: res}
			case <-so.ctx.Done():
				return nil, so.ctx.Err()
			}
		}
	} else {
		batch := make([]toolCallRequest, len(calls))
		for i, tc := range calls {
			batch[i] = toolCallRequest{name: tc.Name, args: tc.Arguments}
		}
		out, err := so.exec.executeBatch(so.ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, tc := range calls {
			results[i] = StreamToolResult{ToolCallID: tc.ID, Name: tc.Name, Result: out[i].result, Err: out[i].err}
		}
	}

	for i := range results {
		so.send(StreamEvent{Type: EventTypeToolCallResult, ToolResult: &results[i]})
		if results[i].Err != nil && so.opts.StopOnToolError {
			return nil, fmt.Errorf("llm: tool %q failed: %w", results[i].Name, results[i].Err)
		}
	}
	return results, nil
}

func (so *streamOrchestrator) send(ev StreamEvent) {
	ev.Provider = so.req.Provider
	ev.Model = so.model
	ev.Timestamp = time.Now()
	select {
	case <-so.ctx.Done():
	case so.events <- ev:
	}
}

func (so *streamOrchestrator) sendError(err error) {
	so.send(StreamEvent{Type: EventTypeError, Err: err})
}

// submitToolResult is called by the user to submit tool results (pause mode).
func (so *streamOrchestrator) submitToolResult(toolCallID string, result any) error {
	so.toolWaitMu.Lock()
	ch, exists := so.toolWait[toolCallID]
	so.toolWaitMu.Unlock()

	if !exists {
		return fmt.Errorf("llm: no pending tool call with ID %s", toolCallID)
	}

	select {
	case ch <- result:
		return nil
	case <-so.ctx.Done():
		return so.ctx.Err()
	}
}

// expectToolResult registers a pending call before its request is
// published so an early SubmitToolResult is not lost (pause mode).
func (so *streamOrchestrator) expectToolResult(toolCallID string) chan any {
	ch := make(chan any, 1)
	so.toolWaitMu.Lock()
	so.toolWait[toolCallID] = ch
	so.toolWaitMu.Unlock()
	return ch
}

func (so *streamOrchestrator) forgetToolResult(toolCallID string) {
	so.toolWaitMu.Lock()
	delete(so.toolWait, toolCallID)
	so.toolWaitMu.Unlock()
}
