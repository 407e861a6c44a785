package llm

import (
	"context"
	"fmt"

	"github.com/lithammer/shortuuid/v4"
	"google.golang.org/genai"
)

// executeToolLoop handles multi-round tool calling for Google.
func (p *googleProvider) executeToolLoop(ctx context.Context, plan callPlan, contents []*genai.Content, cfg *genai.GenerateContentConfig) (callResult, error) {
	executor := plan.executor()

	for round := 0; ; round++ {
		res, err := p.client.Models.GenerateContent(ctx, plan.Model, contents, cfg)
		if err != nil {
			return callResult{}, fmt.Errorf("llm: genai generate: %w", err)
		}

		fcs := functionCalls(candidateParts(res))
		if len(fcs) == 0 {
			cr := genAICallResult(res, plan.Structured)
			cr.toolRounds = round
			return cr, nil
		}
		if round >= executor.maxRounds {
			return callResult{}, fmt.Errorf("llm: exceeded maximum tool call rounds (%d)", executor.maxRounds)
		}

		calls := make([]toolCallRequest, len(fcs))
		for i, fc := range fcs {
			calls[i] = toolCallRequest{name: fc.Name, args: fc.Args}
		}
		results, err := executor.executeBatch(ctx, calls)
		if err != nil {
			return callResult{}, err
		}

		stResults := make([]StreamToolResult, len(results))
		for i, r := range results {
			stResults[i] = StreamToolResult{ToolCallID: fcs[i].ID, Name: fcs[i].Name, Result: r.result, Err: r.err}
		}
		// Google requires: [history, model's function calls, user's function responses]
		contents = append(contents, res.Candidates[0].Content, functionResponses(stResults))
	}
}

func functionCalls(parts []*genai.Part) []*genai.FunctionCall {
	var out []*genai.FunctionCall
	for _, p := range parts {
		if p.FunctionCall != nil {
			out = append(out, p.FunctionCall)
		}
	}
	return out
}

// functionResponses builds the user turn carrying tool results.
func functionResponses(results []StreamToolResult) *genai.Content {
	c := &genai.Content{Role: "user"}
	for _, r := range results {
		c.Parts = append(c.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       r.ToolCallID,
				Name:     r.Name,
				Response: toolPayload(r),
			},
		})
	}
	return c
}

// toolCallID returns the call's ID, synthesizing one when the Gemini API
// leaves it empty.
func toolCallID(fc *genai.FunctionCall) string {
	if fc.ID != "" {
		return fc.ID
	}
	return "call_" + shortuuid.New()
}
