package redraft

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/patch"
)

// Orchestrator runs narration and change-map generation for editing
// requests. It holds no per-run state; one Orchestrator serves concurrent
// runs.
type Orchestrator struct {
	gen    Generator
	cfg    Config
	router *ModelRouter

	gate      QuotaGate
	docs      DocumentContextFetcher
	distiller ContextDistiller
	searcher  WebSearcher
	history   HistorySink
	rec       Recorder
	mirror    Mirror
	log       zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithConfig(cfg Config) Option { return func(o *Orchestrator) { o.cfg = cfg } }

func WithQuotaGate(g QuotaGate) Option { return func(o *Orchestrator) { o.gate = g } }

func WithDocuments(d DocumentContextFetcher) Option { return func(o *Orchestrator) { o.docs = d } }

func WithDistiller(d ContextDistiller) Option { return func(o *Orchestrator) { o.distiller = d } }

// WithSearcher enables web search for requests that ask for it and whose
// user passes the premium entitlement check.
func WithSearcher(s WebSearcher) Option { return func(o *Orchestrator) { o.searcher = s } }

func WithHistorySink(h HistorySink) Option { return func(o *Orchestrator) { o.history = h } }

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.rec = r } }

func WithMirror(m Mirror) Option { return func(o *Orchestrator) { o.mirror = m } }

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New creates an Orchestrator over gen.
func New(gen Generator, opts ...Option) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("redraft: nil generator")
	}
	o := &Orchestrator{gen: gen, rec: nopRecorder{}, log: log.Logger}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg = o.cfg.withDefaults()
	o.log = o.log.With().Str("component", "redraft").Logger()

	router, err := NewModelRouter(o.cfg.DefaultTier, o.cfg.Tiers, o.gate, o.log)
	if err != nil {
		return nil, err
	}
	o.router = router
	return o, nil
}

// Router returns the orchestrator's model router.
func (o *Orchestrator) Router() *ModelRouter { return o.router }

// RunResponse is the handle of an accepted run.
type RunResponse struct {
	RunID string
	// Events delivers the run's events in order and is closed after the
	// terminal complete or error event.
	Events <-chan Event
	// Done is closed when the run has fully finished.
	Done <-chan struct{}
}

// Run validates req and starts a run. A malformed request returns a
// *ValidationError and no stream. Canceling ctx aborts the run on a
// best-effort basis: generation calls are canceled, history and context
// are not updated and quota already recorded is kept.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResponse, error) {
	req, err := req.normalize(o.cfg.DefaultTier)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rl := o.log.With().
		Str("run_id", id).
		Str("document_id", req.DocumentID).
		Str("mode", string(req.ActionMode)).
		Str("tier", req.ModelChoice).
		Logger()

	r := &run{
		o:       o,
		id:      id,
		req:     req,
		log:     rl,
		em:      newEmitter(ctx, id, o.cfg.EventBuffer, o.mirror, rl),
		started: time.Now(),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.execute(ctx)
	}()

	return &RunResponse{RunID: id, Events: r.em.out, Done: done}, nil
}

// run is the state of one orchestration.
type run struct {
	o       *Orchestrator
	id      string
	req     Request
	log     zerolog.Logger
	em      *emitter
	started time.Time

	sel        ModelSelection
	search     *searchCoordinator
	docContext string
}

// stageError tags a failure with the error code reported to the client.
type stageError struct {
	code string
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageErr(code string, err error) error {
	var se *stageError
	if errors.As(err, &se) {
		return err
	}
	return &stageError{code: code, err: err}
}

var errorMessages = map[string]string{
	ErrCodeGeneration: "The assistant could not generate a response. Please try again.",
	ErrCodeChanges:    "The assistant could not prepare the document changes. No changes were made.",
	ErrCodeCanceled:   "The request was canceled.",
}

// execute is the run's state machine. Ask and edit share every step; the
// mode only gates the change-map stage.
func (r *run) execute(ctx context.Context) {
	r.em.status("Thinking...", nil)

	r.sel = r.o.router.SelectModel(ctx, r.req.UserID, r.req.ModelChoice)
	if r.sel.DowngradeReason != "" {
		r.o.rec.ModelDowngraded(r.req.ModelChoice, r.sel.DowngradeReason)
	}
	r.log = r.log.With().Str("provider", string(r.sel.Backend.Provider)).Str("model", r.sel.Backend.Model).Logger()

	if r.req.WebSearchEnabled && r.o.searcher != nil && r.o.router.SearchAllowed(ctx, r.req.UserID) {
		r.search = newSearchCoordinator(r.o.searcher, r.o.cfg.MaxSearchCallsPerRun, r.log, r.o.rec)
	} else if r.req.WebSearchEnabled {
		r.log.Info().Msg("web search requested but not available for this request")
	}

	r.docContext = r.fetchContext(ctx)

	var (
		text string
		cm   *patch.ChangeMap
		err  error
	)
	if r.req.ActionMode == ModeEdit {
		text, cm, err = r.narrateAndChange(ctx)
	} else {
		text, err = r.narrateAndComplete(ctx, nil)
	}
	if err != nil {
		r.fail(ctx, err)
		return
	}
	if cm != nil {
		r.em.emit(EventChangesFinal, ChangesPayload{Changes: cm})
	}
	if ctx.Err() != nil {
		r.fail(ctx, ctx.Err())
		return
	}

	history, upd := r.updateHistory(ctx, text)
	if ctx.Err() != nil {
		r.fail(ctx, ctx.Err())
		return
	}

	r.em.emit(EventResult, r.result(text, history, upd))
	r.em.finish(EventComplete, CompletePayload{Message: "Done"})

	d := time.Since(r.started)
	r.o.rec.RunFinished(r.req.ActionMode, r.sel.Backend.Tier, OutcomeComplete, d)
	r.log.Info().Dur("duration", d).Int("chars", len(text)).Msg("run complete")
}

// narrateAndComplete streams narration and emits assistant-complete. A
// run that searched but narrated nothing gets the fallback text.
func (r *run) narrateAndComplete(ctx context.Context, onProgress progressFunc) (string, error) {
	text, err := r.narrate(ctx, onProgress)
	if err != nil {
		return "", stageErr(ErrCodeGeneration, err)
	}
	if text == "" && r.search != nil && r.search.used() {
		text = r.o.cfg.SearchFallbackText
	}
	r.em.emit(EventAssistantComplete, AssistantCompletePayload{Text: text})
	return text, nil
}

func (r *run) fetchContext(ctx context.Context) string {
	if r.o.docs == nil {
		return ""
	}
	c, err := r.o.docs.FetchDocumentContext(ctx, r.req.DocumentID)
	if err != nil {
		r.log.Warn().Err(err).Msg("fetch document context failed, continuing without it")
		return ""
	}
	return c
}

func (r *run) fail(ctx context.Context, err error) {
	code := ErrCodeGeneration
	outcome := OutcomeError
	var se *stageError
	switch {
	case ctx.Err() != nil:
		code, outcome = ErrCodeCanceled, OutcomeCanceled
	case errors.As(err, &se):
		code = se.code
	}

	d := time.Since(r.started)
	if outcome == OutcomeCanceled {
		r.log.Info().Err(err).Dur("duration", d).Msg("run canceled")
	} else {
		r.log.Error().Err(err).Str("code", code).Dur("duration", d).Msg("run failed")
	}
	r.o.rec.RunFinished(r.req.ActionMode, r.sel.Backend.Tier, outcome, d)
	r.em.finish(EventError, ErrorPayload{Error: code, Message: errorMessages[code]})
}

func (r *run) result(text string, history []Turn, upd ContextUpdate) ResultPayload {
	p := ResultPayload{
		Result:         text,
		History:        history,
		RemainingUses:  r.sel.RemainingUses,
		SearchSources:  []string{},
		ContextUpdated: upd.Updated,
		ContextChange:  upd.Change,
		ActionMode:     r.req.ActionMode,
	}
	if r.search != nil {
		f := r.search.snapshot()
		p.SearchUsed = r.search.used()
		if f.Query != "" {
			p.SearchQuery = &f.Query
		}
		if len(f.Sources) > 0 {
			p.SearchSources = f.Sources
		}
	}
	return p
}

// userTurn is the history entry recorded for the request.
func (r *run) userTurn() Turn {
	return Turn{Role: llm.RoleUser, Content: r.req.Instructions}
}
