package redraft

import (
	"context"
	"time"

	"github.com/oraraka-deko/redraft/llm"
)

// Generator is the generation backend. *llm.Client implements it.
type Generator interface {
	Stream(ctx context.Context, req llm.StreamRequest) (*llm.StreamResponse, error)
	Text(ctx context.Context, req llm.TextRequest) (llm.TextResponse, error)
}

// DocumentContextFetcher returns a document's persisted context, or "" if
// it has none.
type DocumentContextFetcher interface {
	FetchDocumentContext(ctx context.Context, documentID string) (string, error)
}

// ContextUpdate is the outcome of a context distillation.
type ContextUpdate struct {
	Updated bool
	Change  *string
}

// ContextDistiller condenses a document's updated history into its
// persisted context.
type ContextDistiller interface {
	Distill(ctx context.Context, documentID string, history []Turn) (ContextUpdate, error)
}

// ContextSaver persists a document's context.
type ContextSaver interface {
	SaveContext(ctx context.Context, documentID, context string) error
}

// HistorySink persists the turn pair a run appended to the history.
type HistorySink interface {
	AppendTurns(ctx context.Context, documentID string, turns []Turn) error
}

// Schedule describes when a run generated its change map.
type Schedule string

const (
	// ScheduleAfterSearch waits for narration and search findings.
	ScheduleAfterSearch Schedule = "after_search"
	// ScheduleEager starts while narration is still streaming.
	ScheduleEager Schedule = "eager"
	// ScheduleDeferred starts after narration completed below the
	// early-start thresholds.
	ScheduleDeferred Schedule = "deferred"
)

// Run outcomes reported to a Recorder.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Recorder receives run metrics.
type Recorder interface {
	RunFinished(mode ActionMode, tier, outcome string, d time.Duration)
	ModelDowngraded(tier, reason string)
	SearchCalled(ok bool)
	ChangesScheduled(s Schedule)
	ChangesProduced(entries, duplicates, missing int)
	ContextDistilled(updated bool, err error)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(ActionMode, string, string, time.Duration) {}
func (nopRecorder) ModelDowngraded(string, string)                        {}
func (nopRecorder) SearchCalled(bool)                                     {}
func (nopRecorder) ChangesScheduled(Schedule)                             {}
func (nopRecorder) ChangesProduced(int, int, int)                         {}
func (nopRecorder) ContextDistilled(bool, error)                          {}
