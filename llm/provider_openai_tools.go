package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// executeToolLoop handles multi-round tool calling for OpenAI.
func (p *openAIProvider) executeToolLoop(ctx context.Context, req openai.ChatCompletionRequest, plan callPlan) (callResult, error) {
	executor := plan.executor()

	for round := 0; ; round++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return callResult{}, fmt.Errorf("llm: openai completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return callResult{}, errors.New("llm: openai returned no choices")
		}

		choice := resp.Choices[0]
		if len(choice.Message.ToolCalls) == 0 {
			cr, err := openAICallResult(resp, plan.Structured)
			cr.toolRounds = round
			return cr, err
		}
		if round >= executor.maxRounds {
			return callResult{}, fmt.Errorf("llm: exceeded maximum tool call rounds (%d)", executor.maxRounds)
		}

		req.Messages = append(req.Messages, choice.Message)

		calls := make([]toolCallRequest, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			var args map[string]any
			if err := unmarshalJSON([]byte(tc.Function.Arguments), &args); err != nil {
				return callResult{}, fmt.Errorf("llm: invalid tool call args for %s: %w", tc.Function.Name, err)
			}
			calls[i] = toolCallRequest{name: tc.Function.Name, args: args}
		}

		results, err := executor.executeBatch(ctx, calls)
		if err != nil {
			return callResult{}, err
		}

		for i, r := range results {
			payload := toolPayload(StreamToolResult{Result: r.result, Err: r.err})
			b, _ := json.Marshal(payload)
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(b),
				Name:       r.name,
				ToolCallID: choice.Message.ToolCalls[i].ID,
			})
		}
	}
}
