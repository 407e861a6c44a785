package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider identifies which backend to use.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
)

// ErrInvalidJSON is returned when a structured response cannot be decoded,
// even after repair.
var ErrInvalidJSON = errors.New("llm: structured response is not valid JSON")

// TextMode selects orchestration behavior for Text().
type TextMode int

const (
	// ModeBasic sends the conversation as-is and returns the assistant's text.
	ModeBasic TextMode = iota
	// ModeStructuredJSON requests a JSON response conforming to ResponseSchema.
	ModeStructuredJSON
	// ModeToolCalling lets the model request tool invocations; the client runs
	// the handlers and returns the model's final answer.
	ModeToolCalling
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Image is an inline image attached to the final user message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Tool declares a callable function the model may request.
type Tool struct {
	// Name is the unique function name referenced by the model.
	Name string
	// Description helps the model understand when to call this tool.
	Description string
	// ParametersSchema is a JSON Schema object, mapped to each provider's format.
	ParametersSchema map[string]any
}

// ToolHandler is invoked when the model requests a tool call.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// TextRequest is the unified request for non-streaming generations.
type TextRequest struct {
	Provider Provider
	Model    string

	// System instruction, prior turns and the new user input. Images are
	// attached to Input.
	System   string
	Messages []Message
	Input    string
	Images   []Image

	Mode TextMode

	Temperature     *float32
	MaxOutputTokens *int

	// ResponseSchema describes the JSON object returned in ModeStructuredJSON.
	ResponseSchema map[string]any
	// SchemaName names the schema for providers that require one.
	SchemaName string

	// Tool calling (ModeToolCalling).
	Tools        []Tool
	ToolHandlers map[string]ToolHandler

	MaxToolRounds   *int  // default 5
	ParallelTools   *bool // default false
	StopOnToolError *bool // default true

	// Labels are carried provider-side where supported.
	Labels map[string]string
}

// TextResponse is a provider-agnostic result from Text().
type TextResponse struct {
	Provider Provider
	Model    string
	Mode     TextMode

	Text string

	// JSON holds the decoded object in ModeStructuredJSON.
	JSON map[string]any

	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// rawJSONSchema passes a generic schema to providers that take a json.Marshaler.
type rawJSONSchema struct {
	m map[string]any
}

func (r rawJSONSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.m)
}
