package redraft

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/oraraka-deko/redraft/llm"
)

// SearchToolName is the tool name the narration model calls to search.
const SearchToolName = "web_search"

// SearchResult is what a WebSearcher returns for one query.
type SearchResult struct {
	Text    string
	Sources []string
}

// WebSearcher runs one web search. The narration model invokes it as a
// tool; the orchestrator never calls it directly.
type WebSearcher interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// SearchFinding is a snapshot of what the search tool gathered in a run.
// Empty strings stand for "not set".
type SearchFinding struct {
	Query   string
	Sources []string
	Text    string
}

// searchCoordinator exposes a WebSearcher as a tool and merges its results
// into one SearchFinding: the first query wins, the last text wins and
// sources are a de-duplicated union in first-seen order.
type searchCoordinator struct {
	searcher WebSearcher
	limiter  *rate.Limiter
	maxCalls int
	log      zerolog.Logger
	rec      Recorder

	mu      sync.Mutex
	calls   int
	finding SearchFinding
	ready   chan struct{}
}

func newSearchCoordinator(s WebSearcher, maxCalls int, log zerolog.Logger, rec Recorder) *searchCoordinator {
	return &searchCoordinator{
		searcher: s,
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		maxCalls: maxCalls,
		log:      log,
		rec:      rec,
		ready:    make(chan struct{}),
	}
}

type searchParams struct {
	Query string `json:"query" description:"The web search query"`
}

// tool returns the search tool declaration and handler.
func (sc *searchCoordinator) tool() ([]llm.Tool, map[string]llm.ToolHandler) {
	tb := llm.NewToolBuilder()
	// The signature is fixed, so AddFunc cannot fail here.
	_ = tb.AddFunc(SearchToolName,
		"Search the web for current information. Use it when the instructions need facts that may be newer than your training data.",
		func(ctx context.Context, p searchParams) (any, error) {
			return sc.invoke(ctx, p.Query), nil
		})
	return tb.Build()
}

// invoke runs one search. Failures are logged and reported to the model as
// an error payload; they never fail the narration.
func (sc *searchCoordinator) invoke(ctx context.Context, query string) map[string]any {
	sc.mu.Lock()
	sc.calls++
	n := sc.calls
	if sc.finding.Query == "" {
		sc.finding.Query = query
	}
	sc.mu.Unlock()

	log := sc.log.With().Str("query", query).Int("call", n).Logger()
	if n > sc.maxCalls {
		log.Warn().Msg("search call limit reached")
		return map[string]any{"error": "search limit reached for this request"}
	}
	if err := sc.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("search rate limiter")
		return map[string]any{"error": "search unavailable"}
	}

	search := llm.RetryableToolHandler(func(ctx context.Context, _ map[string]any) (any, error) {
		return sc.searcher.Search(ctx, query)
	}, llm.RetryConfig{MaxAttempts: 2, InitialBackoff: 200 * time.Millisecond})

	out, err := search(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("web search failed")
		sc.rec.SearchCalled(false)
		return map[string]any{"error": "search failed"}
	}
	res := out.(SearchResult)
	sc.rec.SearchCalled(true)
	log.Debug().Int("sources", len(res.Sources)).Msg("web search done")

	sc.merge(res)
	return map[string]any{"text": res.Text, "sources": res.Sources}
}

func (sc *searchCoordinator) merge(res SearchResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for _, s := range res.Sources {
		if s != "" && !slices.Contains(sc.finding.Sources, s) {
			sc.finding.Sources = append(sc.finding.Sources, s)
		}
	}
	if res.Text == "" {
		return
	}
	first := sc.finding.Text == ""
	sc.finding.Text = res.Text
	if first {
		close(sc.ready)
	}
}

// used reports whether the model invoked the tool at least once.
func (sc *searchCoordinator) used() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.calls > 0
}

// snapshot returns a copy of the current finding.
func (sc *searchCoordinator) snapshot() SearchFinding {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	f := sc.finding
	f.Sources = slices.Clone(f.Sources)
	return f
}

// waitForText waits until the finding has text, polling at interval at
// most attempts times. It returns the snapshot it ended with and whether
// text arrived in time. A run that never called the tool does not wait.
func (sc *searchCoordinator) waitForText(ctx context.Context, interval time.Duration, attempts int) (SearchFinding, bool) {
	if !sc.used() {
		return sc.snapshot(), false
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; ; i++ {
		select {
		case <-sc.ready:
			return sc.snapshot(), true
		default:
		}
		if i >= attempts {
			return sc.snapshot(), false
		}
		select {
		case <-sc.ready:
			return sc.snapshot(), true
		case <-ctx.Done():
			return sc.snapshot(), false
		case <-t.C:
		}
	}
}
