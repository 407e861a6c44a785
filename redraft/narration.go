package redraft

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oraraka-deko/redraft/llm"
)

// narrationState is the text streamed so far. fullText only grows.
type narrationState struct {
	fullText  strings.Builder
	deltas    int
	searching bool
}

// progressFunc observes narration after each delta.
type progressFunc func(text string, deltas int)

// narrate drives the single streaming narration call, republishing every
// fragment as an assistant-delta event in generation order. It toggles the
// searching status around search tool calls. onProgress, if set, is called
// after each delta from the streaming goroutine.
func (r *run) narrate(ctx context.Context, onProgress progressFunc) (string, error) {
	req := llm.StreamRequest{
		Provider: r.sel.Backend.Provider,
		Model:    r.sel.Backend.Model,
		System:   narrationSystem(r.req.ActionMode, r.search != nil, r.docContext),
		Messages: r.req.messages(),
		Input:    narrationInput(r.req),
		Images:   r.req.images(),
		StreamOptions: llm.StreamOptions{
			IncludeUsage:  true,
			MaxToolRounds: r.o.cfg.MaxSearchCallsPerRun + 2,
		},
	}
	if r.search != nil {
		req.Tools, req.ToolHandlers = r.search.tool()
	}

	resp, err := r.o.gen.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("redraft: start narration: %w", err)
	}
	defer resp.Cancel()

	var st narrationState
	done := false
	for ev := range resp.Events {
		switch ev.Type {
		case llm.EventTypeChunk:
			if ev.Text == "" {
				continue
			}
			if st.searching {
				st.searching = false
				r.em.status("Writing...", boolPtr(false))
			}
			st.fullText.WriteString(ev.Text)
			st.deltas++
			r.em.emit(EventAssistantDelta, DeltaPayload{Delta: ev.Text})
			if onProgress != nil {
				onProgress(st.fullText.String(), st.deltas)
			}

		case llm.EventTypeToolCallRequest:
			if ev.ToolCall != nil && ev.ToolCall.Name == SearchToolName && !st.searching {
				st.searching = true
				r.em.status("Searching the web...", boolPtr(true))
			}

		case llm.EventTypeToolCallResult:
			if ev.ToolResult != nil && ev.ToolResult.Err != nil {
				r.log.Warn().Err(ev.ToolResult.Err).Str("tool", ev.ToolResult.Name).Msg("narration tool call failed")
			}

		case llm.EventTypeUsage:
			if u := ev.Usage; u != nil {
				r.log.Debug().Int("prompt_tokens", u.PromptTokens).Int("completion_tokens", u.CompletionTokens).Msg("narration usage")
			}

		case llm.EventTypeError:
			return st.fullText.String(), fmt.Errorf("redraft: narration: %w", ev.Err)

		case llm.EventTypeDone:
			done = true
		}
	}

	if st.searching {
		r.em.status("Writing...", boolPtr(false))
	}
	if !done {
		if err := ctx.Err(); err != nil {
			return st.fullText.String(), err
		}
		return st.fullText.String(), errors.New("redraft: narration stream ended without completion")
	}

	r.log.Debug().Int("deltas", st.deltas).Int("chars", st.fullText.Len()).Msg("narration complete")
	return st.fullText.String(), nil
}
