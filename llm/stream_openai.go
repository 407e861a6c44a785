package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Stream streams one conversation, re-issuing the request with tool results
// whenever a round finishes with tool calls.
func (p *openAIProvider) Stream(ctx context.Context, plan callPlan, sink streamSink) error {
	req := openAIRequest(plan)
	req.Stream = true
	if plan.IncludeUsage {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	for round := 0; ; round++ {
		text, calls, err := p.streamRound(ctx, req, sink)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if round >= plan.maxRounds() {
			return fmt.Errorf("llm: exceeded maximum tool call rounds (%d)", plan.maxRounds())
		}

		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		stcs := make([]StreamToolCall, len(calls))
		for i, tc := range calls {
			var args map[string]any
			if strings.TrimSpace(tc.Function.Arguments) != "" {
				if err := unmarshalJSON([]byte(tc.Function.Arguments), &args); err != nil {
					return fmt.Errorf("llm: invalid tool call args for %s: %w", tc.Function.Name, err)
				}
			}
			stcs[i] = StreamToolCall{
				ID:           tc.ID,
				Name:         tc.Function.Name,
				Arguments:    args,
				ArgumentsRaw: tc.Function.Arguments,
			}
		}

		results, err := sink.runTools(stcs)
		if err != nil {
			return err
		}
		for i, r := range results {
			b, _ := json.Marshal(toolPayload(r))
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(b),
				ToolCallID: calls[i].ID,
			})
		}
	}
}

// streamRound consumes one completion stream. It forwards text to sink and
// returns the accumulated text and the tool calls assembled from deltas.
func (p *openAIProvider) streamRound(ctx context.Context, req openai.ChatCompletionRequest, sink streamSink) (string, []openai.ToolCall, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("llm: openai stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	pending := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("llm: openai stream: %w", err)
		}

		if resp.Usage != nil {
			sink.usage(StreamUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			})
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			sink.chunk(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			idx := len(pending)
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := pending[idx]
			if !ok {
				i := idx
				cur = &openai.ToolCall{Index: &i, Type: openai.ToolTypeFunction}
				pending[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			cur.Function.Arguments += tc.Function.Arguments
		}
	}

	idxs := make([]int, 0, len(pending))
	for i := range pending {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	calls := make([]openai.ToolCall, 0, len(idxs))
	for _, i := range idxs {
		calls = append(calls, *pending[i])
	}
	return text.String(), calls, nil
}
