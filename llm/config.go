package llm

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// GoogleBackend selects the underlying Google backend.
type GoogleBackend int

const (
	// GoogleBackendAuto chooses Vertex AI when Project and Location are set, the Gemini API otherwise.
	GoogleBackendAuto GoogleBackend = iota
	// GoogleBackendGemini uses the Gemini Developer API.
	GoogleBackendGemini
	// GoogleBackendVertex uses Vertex AI (requires Project and Location).
	GoogleBackendVertex
)

// Config contains client-wide configuration. Provider selection happens per
// call; Config holds secrets and HTTP knobs.
type Config struct {
	// Default model per provider if not set per-call.
	DefaultModelOpenAI string
	DefaultModelGoogle string

	// OpenAI-compatible configuration.
	OpenAIAPIKey     string // falls back to env OPENAI_API_KEY if empty and DetectEnv is true
	OpenAIBaseURL    string // optional; custom, Azure or OpenAI-compatible endpoint
	OpenAIOrgID      string // optional; also read from env OPENAI_ORG_ID
	OpenAIAPIType    string // "openai" (default) or "azure"
	OpenAIAPIVersion string // required for Azure

	// Google GenAI configuration.
	GoogleAPIKey   string // falls back to env GOOGLE_API_KEY if empty and DetectEnv is true
	GoogleProject  string // required for Vertex AI
	GoogleLocation string // required for Vertex AI
	GoogleBaseURL  string // optional custom endpoint
	GoogleBackend  GoogleBackend

	// Shared client options.
	HTTPClient *http.Client
	Timeout    time.Duration // used to build an HTTP client when HTTPClient is nil

	// Tool execution defaults applied to every tool-calling plan.
	ToolCacheTTL     time.Duration // zero disables the result cache
	ToolCacheMaxSize int
	ToolRetryConfig  *RetryConfig

	// Logger receives provider and tool-loop diagnostics. Defaults to the global zerolog logger.
	Logger *zerolog.Logger

	// DetectEnv pulls missing values from the environment.
	DetectEnv bool
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	if c.Timeout > 0 {
		return &http.Client{Timeout: c.Timeout}
	}
	return nil
}
