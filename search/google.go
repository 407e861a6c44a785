// Package search implements web searchers for the redraft narration tool.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/oraraka-deko/redraft/redraft"
)

const defaultModel = "gemini-2.5-flash"

// contentGenerator is the part of *genai.Models the searcher needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GoogleSearcher answers queries with Gemini grounded on Google Search.
type GoogleSearcher struct {
	models contentGenerator
	model  string
	log    zerolog.Logger
}

var _ redraft.WebSearcher = (*GoogleSearcher)(nil)

// NewGoogleSearcher creates a searcher. An empty model selects
// gemini-2.5-flash.
func NewGoogleSearcher(client *genai.Client, model string, log zerolog.Logger) *GoogleSearcher {
	if model == "" {
		model = defaultModel
	}
	return &GoogleSearcher{models: client.Models, model: model, log: log.With().Str("component", "search").Logger()}
}

// Search runs one grounded query and returns the summary with the URIs of
// the grounding sources.
func (s *GoogleSearcher) Search(ctx context.Context, query string) (redraft.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return redraft.SearchResult{}, fmt.Errorf("search: empty query")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: searchInstruction}}},
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: query}}}}

	res, err := s.models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return redraft.SearchResult{}, fmt.Errorf("search: %w", err)
	}

	out := redraft.SearchResult{Text: strings.TrimSpace(res.Text()), Sources: sources(res)}
	s.log.Debug().
		Str("query", query).
		Int("sources", len(out.Sources)).
		Int("text_len", len(out.Text)).
		Msg("web search finished")
	return out, nil
}

const searchInstruction = "Search the web for the user's query and summarize the relevant facts in a few sentences. Do not add commentary."

func sources(res *genai.GenerateContentResponse) []string {
	if res == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range res.Candidates {
		if c == nil || c.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range c.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
				continue
			}
			seen[chunk.Web.URI] = true
			out = append(out, chunk.Web.URI)
		}
	}
	return out
}
