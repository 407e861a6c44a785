package llm

import (
	"context"
	"time"
)

// StreamRequest configures a streaming text generation.
type StreamRequest struct {
	Provider Provider
	Model    string

	System   string
	Messages []Message
	Input    string
	Images   []Image

	Temperature     *float32
	MaxOutputTokens *int

	// Tools the model may call mid-stream.
	Tools        []Tool
	ToolHandlers map[string]ToolHandler

	StreamOptions StreamOptions
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	// BufferSize sets the channel buffer size for events (default: 100)
	BufferSize int

	// IncludeUsage requests usage metadata
	IncludeUsage bool

	// ToolExecutionMode controls how tools are executed
	ToolExecutionMode ToolExecutionMode

	// MaxToolRounds bounds how many times the stream is re-issued with tool
	// results (default: 5)
	MaxToolRounds int

	// StopOnToolError ends the stream with an error when a handler fails.
	// Otherwise the failure is sent back to the model as the tool result.
	StopOnToolError bool
}

// ToolExecutionMode determines tool execution strategy during streaming.
type ToolExecutionMode int

const (
	// ToolExecutionAuto executes tools serially and continues streaming
	ToolExecutionAuto ToolExecutionMode = iota
	// ToolExecutionPause waits for SubmitToolResult for every call
	ToolExecutionPause
	// ToolExecutionParallel executes the calls of one round in parallel
	ToolExecutionParallel
)

// StreamEvent represents a single event in the stream.
type StreamEvent struct {
	Type StreamEventType

	// Text content (EventTypeChunk)
	Text string

	// Tool call request (EventTypeToolCallRequest)
	ToolCall *StreamToolCall

	// Tool call result (EventTypeToolCallResult)
	ToolResult *StreamToolResult

	// Usage (EventTypeUsage)
	Usage *StreamUsage

	// Model that produced the stream
	Model string

	// Error (EventTypeError)
	Err error

	Provider  Provider
	Timestamp time.Time
}

// StreamEventType identifies the event kind.
type StreamEventType int

const (
	// EventTypeChunk is a text token chunk
	EventTypeChunk StreamEventType = iota
	// EventTypeToolCallRequest indicates model wants to call a tool
	EventTypeToolCallRequest
	// EventTypeToolCallResult contains a completed tool execution result
	EventTypeToolCallResult
	// EventTypeUsage contains token usage metadata
	EventTypeUsage
	// EventTypeDone signals stream completion
	EventTypeDone
	// EventTypeError signals an error occurred
	EventTypeError
)

func (t StreamEventType) String() string {
	switch t {
	case EventTypeChunk:
		return "chunk"
	case EventTypeToolCallRequest:
		return "tool_call_request"
	case EventTypeToolCallResult:
		return "tool_call_result"
	case EventTypeUsage:
		return "usage"
	case EventTypeDone:
		return "done"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamToolCall represents a tool invocation request from the model.
type StreamToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]any
	ArgumentsRaw string // raw JSON before parsing, when the provider sends one
}

// StreamToolResult contains the result of a tool execution.
type StreamToolResult struct {
	ToolCallID string
	Name       string
	Result     any
	Err        error
}

// StreamUsage contains token usage information.
type StreamUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamResponse provides control over an active stream.
type StreamResponse struct {
	// Events is closed after the Done or Error event.
	Events <-chan StreamEvent
	Cancel context.CancelFunc

	// SubmitToolResult submits a tool result in ToolExecutionPause mode.
	SubmitToolResult func(toolCallID string, result any) error
}
