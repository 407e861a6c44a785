package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type googleProvider struct {
	client *genai.Client
}

func newGoogleProvider(cfg Config) (providerClient, error) {
	gc, err := NewGenAIClient(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &googleProvider{client: gc}, nil
}

// NewGenAIClient builds a genai client from cfg. It is exported for
// packages that call Gemini features outside the Client surface, such as
// search grounding.
func NewGenAIClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		HTTPClient:  cfg.httpClient(),
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.GoogleBaseURL},
	}

	backend := cfg.GoogleBackend
	if backend == GoogleBackendAuto {
		backend = GoogleBackendGemini
		if cfg.GoogleProject != "" && cfg.GoogleLocation != "" {
			backend = GoogleBackendVertex
		}
	}
	switch backend {
	case GoogleBackendVertex:
		if cfg.GoogleProject == "" || cfg.GoogleLocation == "" {
			return nil, errors.New("llm: GoogleProject and GoogleLocation are required for Vertex AI")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.GoogleProject
		cc.Location = cfg.GoogleLocation
	default:
		if cfg.GoogleAPIKey == "" {
			return nil, errors.New("llm: Google API key is required to use ProviderGoogle")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.GoogleAPIKey
	}

	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: genai client: %w", err)
	}
	return gc, nil
}

func (p *googleProvider) Text(ctx context.Context, plan callPlan) (callResult, error) {
	cfg := genAIConfig(plan)
	contents := genAIContents(plan)

	if len(plan.Tools) > 0 && len(plan.ToolHandlers) > 0 {
		return p.executeToolLoop(ctx, plan, contents, cfg)
	}

	res, err := p.client.Models.GenerateContent(ctx, plan.Model, contents, cfg)
	if err != nil {
		return callResult{}, fmt.Errorf("llm: genai generate: %w", err)
	}
	return genAICallResult(res, plan.Structured), nil
}

// genAIConfig maps plan options onto a generation config.
func genAIConfig(plan callPlan) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(plan.System) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: plan.System}}}
	}
	if plan.Temperature != nil {
		cfg.Temperature = genai.Ptr(*plan.Temperature)
	}
	if plan.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = int32(*plan.MaxOutputTokens)
	}
	if len(plan.Labels) > 0 {
		cfg.Labels = plan.Labels
	}
	if plan.Structured && len(plan.ResponseSchema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = plan.ResponseSchema
	}
	if len(plan.Tools) > 0 {
		cfg.Tools = toGenAITools(plan.Tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	return cfg
}

func genAIContents(plan callPlan) []*genai.Content {
	contents := make([]*genai.Content, 0, len(plan.Messages)+1)
	for _, m := range plan.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	if plan.Input == "" && len(plan.Images) == 0 {
		return contents
	}
	parts := []*genai.Part{}
	if plan.Input != "" {
		parts = append(parts, &genai.Part{Text: plan.Input})
	}
	for _, img := range plan.Images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	return append(contents, &genai.Content{Role: "user", Parts: parts})
}

func toGenAITools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.ParametersSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// candidateParts returns the first candidate's parts, or nil.
func candidateParts(res *genai.GenerateContentResponse) []*genai.Part {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil
	}
	return res.Candidates[0].Content.Parts
}

func genAICallResult(res *genai.GenerateContentResponse, structured bool) callResult {
	cr := callResult{}
	var texts []string
	for _, p := range candidateParts(res) {
		if p.Text != "" && !p.Thought {
			texts = append(texts, p.Text)
		}
	}
	cr.Text = strings.Join(texts, "\n")
	if structured {
		cr.JSON = decodeObject(cr.Text)
	}

	if res != nil && res.UsageMetadata != nil {
		if n := int(res.UsageMetadata.PromptTokenCount); n > 0 {
			cr.PromptTokens = &n
		}
		if n := int(res.UsageMetadata.CandidatesTokenCount); n > 0 {
			cr.CompletionTokens = &n
		}
		if n := int(res.UsageMetadata.TotalTokenCount); n > 0 {
			cr.TotalTokens = &n
		}
	}
	return cr
}
