package redraft

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oraraka-deko/redraft/llm"
)

// fakeGen is a scripted Generator. Stream emits the scripted search tool
// calls (running their handlers), then the chunks, then Done or Error.
type fakeGen struct {
	chunks        []string
	chunkDelay    time.Duration
	searchQueries []string
	streamErr     error
	streamHang    bool

	textFn func(req llm.TextRequest) (llm.TextResponse, error)

	mu         sync.Mutex
	streamReqs []llm.StreamRequest
	textReqs   []llm.TextRequest
}

func (f *fakeGen) Stream(ctx context.Context, req llm.StreamRequest) (*llm.StreamResponse, error) {
	f.mu.Lock()
	f.streamReqs = append(f.streamReqs, req)
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan llm.StreamEvent, 8)
	send := func(ev llm.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(events)
		defer cancel()

		for _, q := range f.searchQueries {
			call := llm.StreamToolCall{ID: "call_" + q, Name: SearchToolName, Arguments: map[string]any{"query": q}}
			if !send(llm.StreamEvent{Type: llm.EventTypeToolCallRequest, ToolCall: &call}) {
				return
			}
			h := req.ToolHandlers[SearchToolName]
			if h == nil {
				continue
			}
			out, err := h(ctx, call.Arguments)
			res := llm.StreamToolResult{ToolCallID: call.ID, Name: call.Name, Result: out, Err: err}
			if !send(llm.StreamEvent{Type: llm.EventTypeToolCallResult, ToolResult: &res}) {
				return
			}
		}
		for _, c := range f.chunks {
			if f.chunkDelay > 0 {
				select {
				case <-time.After(f.chunkDelay):
				case <-ctx.Done():
					return
				}
			}
			if !send(llm.StreamEvent{Type: llm.EventTypeChunk, Text: c}) {
				return
			}
		}
		if f.streamHang {
			<-ctx.Done()
			return
		}
		if f.streamErr != nil {
			send(llm.StreamEvent{Type: llm.EventTypeError, Err: f.streamErr})
			return
		}
		send(llm.StreamEvent{Type: llm.EventTypeUsage, Usage: &llm.StreamUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}})
		send(llm.StreamEvent{Type: llm.EventTypeDone})
	}()

	return &llm.StreamResponse{Events: events, Cancel: cancel}, nil
}

func (f *fakeGen) Text(ctx context.Context, req llm.TextRequest) (llm.TextResponse, error) {
	f.mu.Lock()
	f.textReqs = append(f.textReqs, req)
	fn := f.textFn
	f.mu.Unlock()
	if fn == nil {
		return llm.TextResponse{}, errors.New("no text scripted")
	}
	return fn(req)
}

func (f *fakeGen) streamCalls() []llm.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.StreamRequest(nil), f.streamReqs...)
}

func (f *fakeGen) textCalls() []llm.TextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.TextRequest(nil), f.textReqs...)
}

// changesResponse scripts a structured change-map answer.
func changesResponse(pairs ...string) func(llm.TextRequest) (llm.TextResponse, error) {
	changes := make([]any, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		changes = append(changes, map[string]any{"original": pairs[i], "replacement": pairs[i+1]})
	}
	obj := map[string]any{"changes": changes}
	raw, _ := json.Marshal(obj)
	return func(req llm.TextRequest) (llm.TextResponse, error) {
		if req.Mode != llm.ModeStructuredJSON {
			return llm.TextResponse{Text: "summary"}, nil
		}
		return llm.TextResponse{Text: string(raw), JSON: obj, Model: req.Model}, nil
	}
}

type fakeGate struct {
	mu        sync.Mutex
	allowed   bool
	checkErr  error
	recordErr error
	remaining int
	checks    int
	records   int
}

func (g *fakeGate) CheckPremiumEntitlement(context.Context, string) (Entitlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.checkErr != nil {
		return Entitlement{}, g.checkErr
	}
	if !g.allowed {
		return Entitlement{Allowed: false, Reason: "quota_exhausted"}, nil
	}
	return Entitlement{Allowed: true}, nil
}

func (g *fakeGate) RecordPremiumUsage(context.Context, string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.recordErr != nil {
		return 0, g.recordErr
	}
	g.records++
	g.remaining--
	return g.remaining, nil
}

func (g *fakeGate) recorded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records
}

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string]SearchResult
	err     error
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, q string) (SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return SearchResult{}, s.err
	}
	return s.results[q], nil
}

type fakeDistiller struct {
	upd     ContextUpdate
	err     error
	history []Turn
}

func (d *fakeDistiller) Distill(_ context.Context, _ string, history []Turn) (ContextUpdate, error) {
	d.history = history
	return d.upd, d.err
}

type fakeSink struct {
	mu    sync.Mutex
	turns []Turn
}

func (s *fakeSink) AppendTurns(_ context.Context, _ string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
	return nil
}

type fakeDocs struct {
	context string
	err     error
	saved   map[string]string
}

func (d *fakeDocs) FetchDocumentContext(context.Context, string) (string, error) {
	return d.context, d.err
}

func (d *fakeDocs) SaveContext(_ context.Context, id, c string) error {
	if d.saved == nil {
		d.saved = map[string]string{}
	}
	d.saved[id] = c
	d.context = c
	return nil
}

type fakeRecorder struct {
	nopRecorder
	mu        sync.Mutex
	schedules []Schedule
	outcomes  []string
	downgrade []string
}

func (r *fakeRecorder) ChangesScheduled(s Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, s)
}

func (r *fakeRecorder) RunFinished(_ ActionMode, _, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) ModelDowngraded(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downgrade = append(r.downgrade, reason)
}

var testTiers = map[string]Backend{
	"basic": {Provider: llm.ProviderOpenAI, Model: "basic-model"},
	"pro":   {Provider: llm.ProviderOpenAI, Model: "pro-model"},
}

func newTestOrchestrator(t *testing.T, gen Generator, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	if cfg.Tiers == nil {
		cfg.Tiers = testTiers
	}
	o, err := New(gen, append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return o
}

// collect drains a run's events.
func collect(t *testing.T, resp *RunResponse) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-resp.Events:
			if !ok {
				select {
				case <-resp.Done:
				case <-timeout:
					t.Fatal("run did not finish")
				}
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func eventTypes(evs []Event) []EventType {
	out := make([]EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func indexOf(evs []Event, typ EventType) int {
	for i, ev := range evs {
		if ev.Type == typ {
			return i
		}
	}
	return -1
}

func payloadOf[T any](t *testing.T, evs []Event, typ EventType) T {
	t.Helper()
	i := indexOf(evs, typ)
	require.GreaterOrEqual(t, i, 0, "no %s event", typ)
	p, ok := evs[i].Payload.(T)
	require.True(t, ok, "unexpected payload %T", evs[i].Payload)
	return p
}

func statuses(evs []Event) []StatusPayload {
	var out []StatusPayload
	for _, ev := range evs {
		if ev.Type == EventStatus {
			out = append(out, ev.Payload.(StatusPayload))
		}
	}
	return out
}
