package redraft

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/llm"
)

// LLMDistiller summarizes a document's conversation into its persisted
// context with one basic generation call.
type LLMDistiller struct {
	gen     Generator
	backend Backend
	docs    DocumentContextFetcher
	saver   ContextSaver
	log     zerolog.Logger

	// MinTurns is the history length below which nothing is distilled.
	MinTurns int
	// MaxTurns is how many of the latest turns are summarized.
	MaxTurns int
}

// NewLLMDistiller creates a distiller that reads the previous context from
// docs and writes the new one to saver.
func NewLLMDistiller(gen Generator, backend Backend, docs DocumentContextFetcher, saver ContextSaver, log zerolog.Logger) *LLMDistiller {
	return &LLMDistiller{
		gen:      gen,
		backend:  backend,
		docs:     docs,
		saver:    saver,
		log:      log.With().Str("component", "distiller").Logger(),
		MinTurns: 2,
		MaxTurns: 12,
	}
}

// Distill implements ContextDistiller.
func (d *LLMDistiller) Distill(ctx context.Context, documentID string, history []Turn) (ContextUpdate, error) {
	if len(history) < d.MinTurns {
		return ContextUpdate{}, nil
	}
	turns := history
	if d.MaxTurns > 0 && len(turns) > d.MaxTurns {
		turns = turns[len(turns)-d.MaxTurns:]
	}

	var previous string
	if d.docs != nil {
		p, err := d.docs.FetchDocumentContext(ctx, documentID)
		if err != nil {
			return ContextUpdate{}, fmt.Errorf("redraft: load previous context: %w", err)
		}
		previous = p
	}

	resp, err := d.gen.Text(ctx, llm.TextRequest{
		Provider: d.backend.Provider,
		Model:    d.backend.Model,
		System:   distillSystem,
		Input:    distillInput(previous, turns),
		Mode:     llm.ModeBasic,
	})
	if err != nil {
		return ContextUpdate{}, fmt.Errorf("redraft: distill context: %w", err)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" || summary == strings.TrimSpace(previous) {
		return ContextUpdate{}, nil
	}
	if err := d.saver.SaveContext(ctx, documentID, summary); err != nil {
		return ContextUpdate{}, fmt.Errorf("redraft: save context: %w", err)
	}
	d.log.Debug().Str("document_id", documentID).Int("chars", len(summary)).Msg("context updated")
	return ContextUpdate{Updated: true, Change: &summary}, nil
}
