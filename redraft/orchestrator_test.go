package redraft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/patch"
)

func editRequest() Request {
	return Request{
		CurrentText:  "The cat sat on the mat.",
		Instructions: "Make it a dog",
		DocumentID:   "doc-1",
	}
}

func assertOrdered(t *testing.T, evs []Event, edit bool) {
	t.Helper()
	complete := indexOf(evs, EventAssistantComplete)
	changes := indexOf(evs, EventChangesFinal)
	result := indexOf(evs, EventResult)
	last := len(evs) - 1

	require.GreaterOrEqual(t, complete, 0)
	if edit {
		require.Greater(t, changes, complete, "changes-final must follow assistant-complete")
		require.Greater(t, result, changes, "result must follow changes-final")
	} else {
		require.Equal(t, -1, changes)
		require.Greater(t, result, complete)
	}
	require.Equal(t, EventComplete, evs[last].Type)
	require.Equal(t, last-1, result)

	for i, ev := range evs {
		assert.Equal(t, i+1, ev.Seq)
		if ev.Type == EventAssistantDelta {
			assert.Less(t, i, complete, "delta after assistant-complete")
		}
	}
}

func TestRun_HaikuOnEmptyDocument(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"Here is a short ", "haiku about rain."},
		textFn: changesResponse(patch.AppendSentinel, "**Soft rain** on the roof\n\n\n\n- grey clouds hum\n# quiet streets"),
	}
	o := newTestOrchestrator(t, gen, Config{})

	resp, err := o.Run(context.Background(), Request{
		CurrentText:  "",
		Instructions: "write a haiku about rain",
		ActionMode:   ModeEdit,
		DocumentID:   "doc-1",
	})
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	cp := payloadOf[ChangesPayload](t, evs, EventChangesFinal)
	require.Equal(t, 1, cp.Changes.Len())
	repl, ok := cp.Changes.Get(patch.AppendSentinel)
	require.True(t, ok, "map must be keyed by the sentinel")
	assert.NotEmpty(t, repl)
	assert.NotContains(t, repl, "**")
	assert.NotContains(t, repl, "# ")
	assert.NotContains(t, repl, "- ")
	assert.Equal(t, repl, patch.StripMarkdown(repl))

	ac := payloadOf[AssistantCompletePayload](t, evs, EventAssistantComplete)
	assert.Equal(t, "Here is a short haiku about rain.", ac.Text)

	res := payloadOf[ResultPayload](t, evs, EventResult)
	assert.Equal(t, ModeEdit, res.ActionMode)
	assert.Nil(t, res.RemainingUses)
	assert.False(t, res.SearchUsed)
	assert.Empty(t, res.SearchSources)
	require.Len(t, res.History, 2)
	assert.Equal(t, Turn{Role: llm.RoleUser, Content: "write a haiku about rain"}, res.History[0])
	assert.Equal(t, Turn{Role: llm.RoleAssistant, Content: ac.Text}, res.History[1])
}

func TestRun_AskModeEmitsNoChanges(t *testing.T) {
	gen := &fakeGen{chunks: []string{"It is ", "about a cat."}}
	o := newTestOrchestrator(t, gen, Config{})

	req := editRequest()
	req.ActionMode = ModeAsk
	req.Instructions = "What is this text about?"
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	evs := collect(t, resp)
	assertOrdered(t, evs, false)
	for _, ev := range evs {
		assert.Contains(t, []EventType{EventStatus, EventAssistantDelta, EventAssistantComplete, EventResult, EventComplete}, ev.Type)
	}
	assert.Empty(t, gen.textCalls(), "ask mode must not call the change-map generator")
	assert.Equal(t, ModeAsk, payloadOf[ResultPayload](t, evs, EventResult).ActionMode)
	assert.Contains(t, gen.streamCalls()[0].System, "Answer the user's question")
}

func TestRun_EarlyStartByDeltaCount(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"one ", "two ", "three ", "four "},
		textFn: changesResponse("cat", "dog"),
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{EarlyStartDeltas: 2, EarlyStartChars: 10000}, WithRecorder(rec))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	require.Equal(t, []Schedule{ScheduleEager}, rec.schedules)
	calls := gen.textCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Input, "Assistant's explanation of the changes:\none two \n")
	assert.NotContains(t, calls[0].Input, "three")

	cp := payloadOf[ChangesPayload](t, evs, EventChangesFinal)
	got, _ := cp.Changes.Get("cat")
	assert.Equal(t, "dog", got)
}

func TestRun_EarlyStartByCharacterCount(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"I will swap the animal. ", "Done soon."},
		textFn: changesResponse("cat", "dog"),
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{EarlyStartDeltas: 1000, EarlyStartChars: 10}, WithRecorder(rec))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	require.Equal(t, []Schedule{ScheduleEager}, rec.schedules)
	input := gen.textCalls()[0].Input
	assert.Contains(t, input, "I will swap the animal. ")
	assert.NotContains(t, input, "Done soon.")
	assert.Equal(t, 1, payloadOf[ChangesPayload](t, evs, EventChangesFinal).Changes.Len())
}

func TestRun_DeferredStartUsesFullNarration(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"Short ", "note."},
		textFn: changesResponse("cat", "dog"),
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{}, WithRecorder(rec))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	require.Equal(t, []Schedule{ScheduleDeferred}, rec.schedules)
	assert.Contains(t, gen.textCalls()[0].Input, "Short note.")
}

func TestRun_DuplicateAnchorsKeepLast(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"Changing the animal."},
		textFn: changesResponse("cat", "dog", "mat", "rug", "cat", "fox"),
	}
	o := newTestOrchestrator(t, gen, Config{})

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	cp := payloadOf[ChangesPayload](t, evs, EventChangesFinal)
	assert.Equal(t, []string{"cat", "mat"}, cp.Changes.Keys())
	got, _ := cp.Changes.Get("cat")
	assert.Equal(t, "fox", got)
	assert.Equal(t, []string{"cat"}, cp.Changes.Duplicates())
}

func TestRun_QuotaDowngrade(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	gate := &fakeGate{allowed: false, remaining: 0}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{}, WithQuotaGate(gate), WithRecorder(rec))

	req := editRequest()
	req.UserID = "u1"
	req.ModelChoice = "pro"
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	assert.Equal(t, "basic-model", gen.streamCalls()[0].Model)
	assert.Equal(t, "basic-model", gen.textCalls()[0].Model)
	assert.Nil(t, payloadOf[ResultPayload](t, evs, EventResult).RemainingUses)
	assert.Equal(t, []string{"quota_exhausted"}, rec.downgrade)
	assert.Zero(t, gate.recorded())
}

func TestRun_PremiumGranted(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	gate := &fakeGate{allowed: true, remaining: 5}
	o := newTestOrchestrator(t, gen, Config{}, WithQuotaGate(gate))

	req := editRequest()
	req.UserID = "u1"
	req.ModelChoice = "pro"
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)

	assert.Equal(t, "pro-model", gen.streamCalls()[0].Model)
	assert.Equal(t, "pro-model", gen.textCalls()[0].Model)
	rem := payloadOf[ResultPayload](t, evs, EventResult).RemainingUses
	require.NotNil(t, rem)
	assert.Equal(t, 4, *rem)
	assert.Equal(t, 1, gate.recorded())
}

func TestRun_SearchFindingsGroundChanges(t *testing.T) {
	gen := &fakeGen{
		searchQueries: []string{"rain facts", "more rain"},
		chunks:        []string{"I looked it up."},
		textFn:        changesResponse(patch.AppendSentinel, "Rain is water."),
	}
	searcher := &fakeSearcher{results: map[string]SearchResult{
		"rain facts": {Text: "first text", Sources: []string{"https://a.example", "https://b.example"}},
		"more rain":  {Text: "Rain falls from clouds.", Sources: []string{"https://b.example", "https://c.example"}},
	}}
	gate := &fakeGate{allowed: true, remaining: 10}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{}, WithQuotaGate(gate), WithSearcher(searcher), WithRecorder(rec))

	req := editRequest()
	req.UserID = "u1"
	req.WebSearchEnabled = true
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	require.Equal(t, []Schedule{ScheduleAfterSearch}, rec.schedules)
	require.NotEmpty(t, gen.streamCalls()[0].Tools)
	assert.Equal(t, SearchToolName, gen.streamCalls()[0].Tools[0].Name)

	input := gen.textCalls()[0].Input
	assert.Contains(t, input, "Rain falls from clouds.")
	assert.Contains(t, input, `query "rain facts"`)

	res := payloadOf[ResultPayload](t, evs, EventResult)
	assert.True(t, res.SearchUsed)
	require.NotNil(t, res.SearchQuery)
	assert.Equal(t, "rain facts", *res.SearchQuery)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, res.SearchSources)
	assert.Nil(t, res.RemainingUses, "basic tier reports no remaining uses")
	assert.Equal(t, 1, gate.recorded(), "search consumes one usage unit")

	var searching []bool
	for _, s := range statuses(evs) {
		if s.IsSearching != nil {
			searching = append(searching, *s.IsSearching)
		}
	}
	assert.Equal(t, []bool{true, false}, searching, "one announcement per transition")
}

func TestRun_SearchWaitIsBounded(t *testing.T) {
	gen := &fakeGen{
		searchQueries: []string{"nothing"},
		chunks:        []string{"Tried searching."},
		textFn:        changesResponse("cat", "dog"),
	}
	searcher := &fakeSearcher{results: map[string]SearchResult{"nothing": {Sources: []string{"https://x.example"}}}}
	gate := &fakeGate{allowed: true, remaining: 10}
	cfg := Config{SearchPollInterval: 10 * time.Millisecond, SearchPollAttempts: 5}
	o := newTestOrchestrator(t, gen, cfg, WithQuotaGate(gate), WithSearcher(searcher))

	req := editRequest()
	req.UserID = "u1"
	req.WebSearchEnabled = true

	start := time.Now()
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)
	elapsed := time.Since(start)

	assertOrdered(t, evs, true)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "should poll for findings")
	assert.Less(t, elapsed, 2*time.Second)
	assert.NotContains(t, gen.textCalls()[0].Input, "Web search findings")
}

func TestRun_SearchWithoutNarrationUsesFallback(t *testing.T) {
	gen := &fakeGen{
		searchQueries: []string{"q"},
		textFn:        changesResponse(patch.AppendSentinel, "text"),
	}
	searcher := &fakeSearcher{results: map[string]SearchResult{"q": {Text: "found"}}}
	o := newTestOrchestrator(t, gen, Config{}, WithQuotaGate(&fakeGate{allowed: true, remaining: 3}), WithSearcher(searcher))

	req := editRequest()
	req.UserID = "u1"
	req.WebSearchEnabled = true
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)

	ac := payloadOf[AssistantCompletePayload](t, evs, EventAssistantComplete)
	assert.Equal(t, defaultSearchFallbackText, ac.Text)
	res := payloadOf[ResultPayload](t, evs, EventResult)
	assert.Equal(t, defaultSearchFallbackText, res.History[len(res.History)-1].Content)
}

func TestRun_SearchDeniedWithoutEntitlement(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	searcher := &fakeSearcher{}
	o := newTestOrchestrator(t, gen, Config{}, WithQuotaGate(&fakeGate{allowed: false}), WithSearcher(searcher))

	req := editRequest()
	req.UserID = "u1"
	req.WebSearchEnabled = true
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)

	assert.Empty(t, gen.streamCalls()[0].Tools)
	assert.False(t, payloadOf[ResultPayload](t, evs, EventResult).SearchUsed)
}

func TestRun_SearchFailureIsSwallowed(t *testing.T) {
	gen := &fakeGen{
		searchQueries: []string{"q"},
		chunks:        []string{"Search failed but here is my answer."},
		textFn:        changesResponse("cat", "dog"),
	}
	searcher := &fakeSearcher{err: errors.New("search backend down")}
	o := newTestOrchestrator(t, gen, Config{SearchPollInterval: time.Millisecond, SearchPollAttempts: 2},
		WithQuotaGate(&fakeGate{allowed: true, remaining: 3}), WithSearcher(searcher))

	req := editRequest()
	req.UserID = "u1"
	req.WebSearchEnabled = true
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)

	assertOrdered(t, evs, true)
	assert.Equal(t, EventComplete, evs[len(evs)-1].Type)
}

func TestRun_DistillationFailureDoesNotFailRun(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	distiller := &fakeDistiller{err: errors.New("llm down")}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, gen, Config{}, WithDistiller(distiller), WithHistorySink(sink))

	req := editRequest()
	req.History = []Turn{{Role: llm.RoleUser, Content: "earlier"}, {Role: llm.RoleAssistant, Content: "reply"}}
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)
	assertOrdered(t, evs, true)

	res := payloadOf[ResultPayload](t, evs, EventResult)
	assert.False(t, res.ContextUpdated)
	assert.Nil(t, res.ContextChange)
	require.Len(t, res.History, 4)
	assert.Equal(t, res.History, distiller.history, "distiller sees the final history")
	assert.Equal(t, res.History[2:], sink.turns)

	var msgs []string
	for _, s := range statuses(evs) {
		msgs = append(msgs, s.Message)
	}
	assert.Contains(t, msgs, "Updating document context...")
}

func TestRun_ContextUpdated(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	change := "A story about a dog."
	docs := &fakeDocs{context: "A story about a cat."}
	o := newTestOrchestrator(t, gen, Config{},
		WithDocuments(docs),
		WithDistiller(&fakeDistiller{upd: ContextUpdate{Updated: true, Change: &change}}))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	res := payloadOf[ResultPayload](t, evs, EventResult)
	assert.True(t, res.ContextUpdated)
	require.NotNil(t, res.ContextChange)
	assert.Equal(t, change, *res.ContextChange)
	assert.Contains(t, gen.streamCalls()[0].System, "A story about a cat.")
	assert.Contains(t, gen.textCalls()[0].Input, "A story about a cat.")
}

func TestRun_ContextFetchFailureContinues(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	o := newTestOrchestrator(t, gen, Config{}, WithDocuments(&fakeDocs{err: errors.New("db down")}))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)
	assert.Equal(t, EventComplete, evs[len(evs)-1].Type)
}

func TestRun_NarrationFailure(t *testing.T) {
	gen := &fakeGen{chunks: []string{"partial"}, streamErr: errors.New("provider 500")}
	rec := &fakeRecorder{}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, gen, Config{}, WithRecorder(rec), WithHistorySink(sink))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	last := evs[len(evs)-1]
	require.Equal(t, EventError, last.Type)
	ep := last.Payload.(ErrorPayload)
	assert.Equal(t, ErrCodeGeneration, ep.Error)
	assert.NotContains(t, ep.Message, "provider 500", "internal errors are not sent to the client")
	assert.Equal(t, -1, indexOf(evs, EventResult))
	assert.Equal(t, -1, indexOf(evs, EventChangesFinal))
	assert.Empty(t, sink.turns)
	assert.Equal(t, []string{OutcomeError}, rec.outcomes)
}

func TestRun_ChangeMapFailureAfterNarration(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"I will change it."},
		textFn: func(llm.TextRequest) (llm.TextResponse, error) {
			return llm.TextResponse{}, llm.ErrInvalidJSON
		},
	}
	o := newTestOrchestrator(t, gen, Config{})

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	require.GreaterOrEqual(t, indexOf(evs, EventAssistantComplete), 0, "narration was delivered")
	last := evs[len(evs)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, ErrCodeChanges, last.Payload.(ErrorPayload).Error)
	assert.Equal(t, -1, indexOf(evs, EventChangesFinal))
}

func TestRun_EagerChangeMapFailureStopsNarration(t *testing.T) {
	gen := &fakeGen{
		chunks:     []string{"a ", "b "},
		streamHang: true,
		textFn: func(llm.TextRequest) (llm.TextResponse, error) {
			return llm.TextResponse{}, errors.New("provider 500")
		},
	}
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{EarlyStartDeltas: 1, EarlyStartChars: 10000},
		WithHistorySink(sink), WithRecorder(rec))

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)

	var evs []Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-resp.Events:
			if !ok {
				done = true
				break
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatal("narration kept streaming after the change map failed")
		}
	}
	select {
	case <-resp.Done:
	case <-timeout:
		t.Fatal("run did not finish")
	}

	require.Equal(t, []Schedule{ScheduleEager}, rec.schedules)
	require.GreaterOrEqual(t, len(evs), 3)
	assert.Equal(t, EventStatus, evs[0].Type)
	assert.Equal(t, EventAssistantDelta, evs[1].Type)
	last := evs[len(evs)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, ErrCodeChanges, last.Payload.(ErrorPayload).Error)
	assert.Equal(t, -1, indexOf(evs, EventAssistantComplete))
	assert.Equal(t, -1, indexOf(evs, EventChangesFinal))
	assert.Equal(t, -1, indexOf(evs, EventResult))
	assert.Empty(t, sink.turns)
	assert.Equal(t, []string{OutcomeError}, rec.outcomes)
}

func TestRun_ChangeMapSchemaViolation(t *testing.T) {
	gen := &fakeGen{
		chunks: []string{"ok"},
		textFn: func(req llm.TextRequest) (llm.TextResponse, error) {
			return llm.TextResponse{JSON: map[string]any{"changes": []any{map[string]any{"original": "cat"}}}}, nil
		},
	}
	o := newTestOrchestrator(t, gen, Config{})

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	last := evs[len(evs)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, ErrCodeChanges, last.Payload.(ErrorPayload).Error)
}

func TestRun_CancelStopsRun(t *testing.T) {
	gen := &fakeGen{chunks: []string{"a", "b"}, streamHang: true}
	sink := &fakeSink{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, gen, Config{}, WithHistorySink(sink), WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := o.Run(ctx, editRequest())
	require.NoError(t, err)

	var seen int
	for ev := range resp.Events {
		if ev.Type == EventAssistantDelta {
			seen++
			if seen == 2 {
				cancel()
			}
		}
	}
	select {
	case <-resp.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Empty(t, sink.turns, "no history update after cancel")
	assert.Equal(t, []string{OutcomeCanceled}, rec.outcomes)
}

func TestRun_Validation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGen{}, Config{})

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing instructions", Request{DocumentID: "d", Instructions: "  "}, "instructions"},
		{"missing document", Request{Instructions: "x"}, "documentId"},
		{"unknown mode", Request{Instructions: "x", DocumentID: "d", ActionMode: "rewrite"}, "actionMode"},
		{"bad role", Request{Instructions: "x", DocumentID: "d", History: []Turn{{Role: "system", Content: "x"}}}, "history[0].role"},
		{"empty image", Request{Instructions: "x", DocumentID: "d", Images: []Attachment{{MIMEType: "image/png"}}}, "images[0].data"},
		{"non-image", Request{Instructions: "x", DocumentID: "d", Images: []Attachment{{MIMEType: "text/plain", Data: []byte("x")}}}, "images[0].mimeType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := o.Run(context.Background(), tt.req)
			require.Nil(t, resp)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRun_DefaultsToEditMode(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	o := newTestOrchestrator(t, gen, Config{})

	req := editRequest()
	req.ActionMode = ""
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	evs := collect(t, resp)
	assert.GreaterOrEqual(t, indexOf(evs, EventChangesFinal), 0)
	assert.Equal(t, ModeEdit, payloadOf[ResultPayload](t, evs, EventResult).ActionMode)
}

func TestRun_ImagesReachBothCalls(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	o := newTestOrchestrator(t, gen, Config{})

	req := editRequest()
	req.Images = []Attachment{{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}
	resp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	collect(t, resp)

	require.Len(t, gen.streamCalls()[0].Images, 1)
	require.Len(t, gen.textCalls()[0].Images, 1)
	assert.Equal(t, "image/png", gen.streamCalls()[0].Images[0].MIMEType)
}

func TestRun_StatusMessages(t *testing.T) {
	gen := &fakeGen{chunks: []string{"ok"}, textFn: changesResponse("cat", "dog")}
	o := newTestOrchestrator(t, gen, Config{})

	resp, err := o.Run(context.Background(), editRequest())
	require.NoError(t, err)
	evs := collect(t, resp)

	var msgs []string
	for _, s := range statuses(evs) {
		msgs = append(msgs, s.Message)
	}
	assert.Equal(t, []string{"Thinking...", "Preparing changes...", "Updating document context..."}, msgs)
	assert.Equal(t, EventStatus, evs[0].Type)
	assert.Equal(t, resp.RunID, evs[0].RunID)
}

func TestNew_RequiresDefaultTier(t *testing.T) {
	_, err := New(&fakeGen{}, WithConfig(Config{DefaultTier: "missing", Tiers: testTiers}))
	require.Error(t, err)
	_, err = New(nil)
	require.Error(t, err)
}
