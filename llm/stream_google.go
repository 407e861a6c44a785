package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Stream streams one conversation, re-issuing it with function responses
// whenever a round ends with function calls.
func (p *googleProvider) Stream(ctx context.Context, plan callPlan, sink streamSink) error {
	cfg := genAIConfig(plan)
	contents := genAIContents(plan)

	for round := 0; ; round++ {
		modelTurn, fcs, err := p.streamRound(ctx, plan, contents, cfg, sink)
		if err != nil {
			return err
		}
		if len(fcs) == 0 {
			return nil
		}
		if round >= plan.maxRounds() {
			return fmt.Errorf("llm: exceeded maximum tool call rounds (%d)", plan.maxRounds())
		}

		calls := make([]StreamToolCall, len(fcs))
		for i, fc := range fcs {
			calls[i] = StreamToolCall{ID: toolCallID(fc), Name: fc.Name, Arguments: fc.Args}
		}
		results, err := sink.runTools(calls)
		if err != nil {
			return err
		}
		// Echo the provider's own IDs, not the synthesized ones.
		for i := range results {
			results[i].ToolCallID = fcs[i].ID
		}
		contents = append(contents, modelTurn, functionResponses(results))
	}
}

// streamRound consumes one GenerateContentStream. Text parts go to sink;
// every part is also collected into the model turn that has to be replayed
// when the round ends with function calls.
func (p *googleProvider) streamRound(
	ctx context.Context,
	plan callPlan,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
	sink streamSink,
) (*genai.Content, []*genai.FunctionCall, error) {
	modelTurn := &genai.Content{Role: "model"}
	var fcs []*genai.FunctionCall
	var usage *StreamUsage

	for res, err := range p.client.Models.GenerateContentStream(ctx, plan.Model, contents, cfg) {
		if err != nil {
			return nil, nil, fmt.Errorf("llm: genai stream: %w", err)
		}
		if res == nil {
			continue
		}
		for _, part := range candidateParts(res) {
			modelTurn.Parts = append(modelTurn.Parts, part)
			switch {
			case part.FunctionCall != nil:
				fcs = append(fcs, part.FunctionCall)
			case part.Text != "" && !part.Thought:
				sink.chunk(part.Text)
			}
		}
		if um := res.UsageMetadata; um != nil {
			usage = &StreamUsage{
				PromptTokens:     int(um.PromptTokenCount),
				CompletionTokens: int(um.CandidatesTokenCount),
				TotalTokens:      int(um.TotalTokenCount),
			}
		}
	}

	if plan.IncludeUsage && usage != nil {
		sink.usage(*usage)
	}
	return modelTurn, fcs, nil
}
