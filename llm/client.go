// Package llm is a small generation client over OpenAI-compatible and Google
// GenAI backends: one-shot text, structured JSON, tool loops and streams with
// in-stream tool execution.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is the unified public client. Provider handles are created lazily
// on first use and shared by concurrent calls.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	openai providerClient
	google providerClient
}

// New creates a Client with the given config.
// If DetectEnv is true, it pulls missing API keys from environment variables.
func New(cfg Config) *Client {
	if cfg.DetectEnv {
		if cfg.OpenAIAPIKey == "" {
			cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.OpenAIOrgID == "" {
			cfg.OpenAIOrgID = os.Getenv("OPENAI_ORG_ID")
		}
		if cfg.GoogleAPIKey == "" {
			cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
		}
		if cfg.GoogleProject == "" {
			cfg.GoogleProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if cfg.GoogleLocation == "" {
			cfg.GoogleLocation = os.Getenv("GOOGLE_CLOUD_LOCATION")
		}
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Client{cfg: cfg, log: l.With().Str("component", "llm").Logger()}
}

// Text executes a text request using the requested provider/model and Mode.
func (c *Client) Text(ctx context.Context, req TextRequest) (TextResponse, error) {
	model, err := c.resolveModel(req.Provider, req.Model)
	if err != nil {
		return TextResponse{}, err
	}

	plan, err := buildPlan(req.Provider, model, req, c.cfg)
	if err != nil {
		return TextResponse{}, err
	}

	pc, err := c.ensureProvider(plan.Provider)
	if err != nil {
		return TextResponse{}, err
	}
	res, err := pc.Text(ctx, plan)
	if err != nil {
		return TextResponse{}, err
	}
	if plan.Structured && res.JSON == nil {
		return TextResponse{}, fmt.Errorf("%w: %q", ErrInvalidJSON, truncate(res.Text, 200))
	}
	if res.toolRounds > 0 {
		c.log.Debug().Str("model", model).Int("tool_rounds", res.toolRounds).Msg("tool loop finished")
	}

	return TextResponse{
		Provider:         req.Provider,
		Model:            model,
		Mode:             req.Mode,
		Text:             res.Text,
		JSON:             res.JSON,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
	}, nil
}

func (c *Client) resolveModel(p Provider, model string) (string, error) {
	if p != ProviderOpenAI && p != ProviderGoogle {
		return "", fmt.Errorf("llm: unknown provider %q", p)
	}
	if model != "" {
		return model, nil
	}
	switch p {
	case ProviderOpenAI:
		model = c.cfg.DefaultModelOpenAI
	case ProviderGoogle:
		model = c.cfg.DefaultModelGoogle
	}
	if model == "" {
		return "", errors.New("llm: model must be specified")
	}
	return model, nil
}

func (c *Client) ensureProvider(p Provider) (providerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p {
	case ProviderOpenAI:
		if c.openai == nil {
			pc, err := newOpenAIProvider(c.cfg)
			if err != nil {
				return nil, err
			}
			c.openai = pc
		}
		return c.openai, nil
	case ProviderGoogle:
		if c.google == nil {
			pc, err := newGoogleProvider(c.cfg)
			if err != nil {
				return nil, err
			}
			c.google = pc
		}
		return c.google, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", p)
	}
}

// buildPlan converts a TextRequest + Mode into a call plan.
func buildPlan(provider Provider, model string, req TextRequest, cfg Config) (callPlan, error) {
	plan := callPlan{
		Provider:         provider,
		Model:            model,
		System:           req.System,
		Messages:         req.Messages,
		Input:            req.Input,
		Images:           req.Images,
		Temperature:      req.Temperature,
		MaxOutputTokens:  req.MaxOutputTokens,
		Labels:           req.Labels,
		ToolCacheTTL:     cfg.ToolCacheTTL,
		ToolCacheMaxSize: cfg.ToolCacheMaxSize,
		ToolRetryConfig:  cfg.ToolRetryConfig,
	}

	switch req.Mode {
	case ModeBasic:
		return plan, nil

	case ModeStructuredJSON:
		if len(req.ResponseSchema) == 0 {
			return callPlan{}, errors.New("llm: ResponseSchema is required for ModeStructuredJSON")
		}
		plan.Structured = true
		plan.ResponseSchema = req.ResponseSchema
		plan.SchemaName = req.SchemaName
		if plan.SchemaName == "" {
			plan.SchemaName = "response"
		}
		return plan, nil

	case ModeToolCalling:
		if len(req.Tools) == 0 {
			return callPlan{}, errors.New("llm: Tools must be provided for ModeToolCalling")
		}
		plan.Tools = req.Tools
		plan.ToolHandlers = req.ToolHandlers
		plan.MaxToolRounds = req.MaxToolRounds
		plan.ParallelTools = req.ParallelTools
		plan.StopOnToolError = req.StopOnToolError
		return plan, nil

	default:
		return callPlan{}, fmt.Errorf("llm: unknown mode %v", req.Mode)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
