package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIProvider struct {
	client *openai.Client
}

func newOpenAIProvider(cfg Config) (providerClient, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("llm: OpenAI API key is required to use ProviderOpenAI")
	}

	var oc openai.ClientConfig
	if strings.EqualFold(cfg.OpenAIAPIType, "azure") {
		if cfg.OpenAIBaseURL == "" {
			return nil, errors.New("llm: OpenAIBaseURL is required for Azure")
		}
		oc = openai.DefaultAzureConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if cfg.OpenAIAPIVersion != "" {
			oc.APIVersion = cfg.OpenAIAPIVersion
		}
	} else {
		oc = openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oc.BaseURL = cfg.OpenAIBaseURL
		}
		oc.OrgID = cfg.OpenAIOrgID
	}
	if hc := cfg.httpClient(); hc != nil {
		oc.HTTPClient = hc
	}
	return &openAIProvider{client: openai.NewClientWithConfig(oc)}, nil
}

func (p *openAIProvider) Text(ctx context.Context, plan callPlan) (callResult, error) {
	req := openAIRequest(plan)

	if len(plan.Tools) > 0 && len(plan.ToolHandlers) > 0 {
		return p.executeToolLoop(ctx, req, plan)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return callResult{}, fmt.Errorf("llm: openai completion: %w", err)
	}
	return openAICallResult(resp, plan.Structured)
}

// openAIRequest maps a plan to a non-streaming chat completion request.
func openAIRequest(plan callPlan) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    plan.Model,
		Messages: openAIMessages(plan),
		Tools:    openAITools(plan.Tools),
	}
	if plan.Temperature != nil {
		req.Temperature = *plan.Temperature
	}
	if plan.MaxOutputTokens != nil {
		req.MaxCompletionTokens = *plan.MaxOutputTokens
	}
	if plan.Structured && len(plan.ResponseSchema) > 0 {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   plan.SchemaName,
				Schema: rawJSONSchema{m: plan.ResponseSchema},
				Strict: true,
			},
		}
	}
	return req
}

func openAIMessages(plan callPlan) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(plan.Messages)+2)
	if strings.TrimSpace(plan.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: plan.System,
		})
	}
	for _, m := range plan.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	if len(plan.Images) == 0 {
		if plan.Input != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: plan.Input,
			})
		}
		return msgs
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: plan.Input}}
	for _, img := range plan.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

func openAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParametersSchema,
			},
		}
	}
	return out
}

func openAICallResult(resp openai.ChatCompletionResponse, structured bool) (callResult, error) {
	if len(resp.Choices) == 0 {
		return callResult{}, errors.New("llm: openai returned no choices")
	}
	cr := callResult{Text: resp.Choices[0].Message.Content}
	if structured {
		cr.JSON = decodeObject(cr.Text)
	}
	if u := resp.Usage; u.TotalTokens > 0 {
		pt, ct, tt := u.PromptTokens, u.CompletionTokens, u.TotalTokens
		cr.PromptTokens, cr.CompletionTokens, cr.TotalTokens = &pt, &ct, &tt
	}
	return cr, nil
}
