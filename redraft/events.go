package redraft

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/patch"
)

// EventType names an outbound event.
type EventType string

const (
	EventStatus            EventType = "status"
	EventAssistantDelta    EventType = "assistant-delta"
	EventAssistantComplete EventType = "assistant-complete"
	EventChangesFinal      EventType = "changes-final"
	EventResult            EventType = "result"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
)

// Error codes carried by EventError.
const (
	ErrCodeGeneration = "generation_failed"
	ErrCodeChanges    = "changes_failed"
	ErrCodeCanceled   = "canceled"
)

// Event is one frame of a run's outbound stream. Payload is one of the
// *Payload types below and is serialized as the frame's JSON body.
type Event struct {
	RunID   string
	Seq     int
	Type    EventType
	Payload any
	Time    time.Time
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

type StatusPayload struct {
	Message     string `json:"message"`
	IsSearching *bool  `json:"isSearching,omitempty"`
}

type DeltaPayload struct {
	Delta string `json:"delta"`
}

type AssistantCompletePayload struct {
	Text string `json:"text"`
}

type ChangesPayload struct {
	Changes *patch.ChangeMap `json:"changes"`
}

// ResultPayload summarizes a finished run.
type ResultPayload struct {
	Result         string     `json:"result"`
	History        []Turn     `json:"history"`
	RemainingUses  *int       `json:"remainingUses"`
	SearchUsed     bool       `json:"searchUsed"`
	SearchQuery    *string    `json:"searchQuery"`
	SearchSources  []string   `json:"searchSources"`
	ContextUpdated bool       `json:"contextUpdated"`
	ContextChange  *string    `json:"contextChange"`
	ActionMode     ActionMode `json:"actionMode"`
}

type CompletePayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Mirror receives a copy of every emitted event, e.g. to fan runs out on
// a message bus. Errors are logged and never affect the run.
type Mirror interface {
	Publish(ctx context.Context, ev Event) error
}

// emitter serializes a run's events onto one channel. Events are numbered
// in emission order; after a terminal event nothing more is sent and the
// channel is closed.
type emitter struct {
	ctx    context.Context
	runID  string
	mirror Mirror
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	out    chan Event
	seq    int
	closed bool
}

func newEmitter(ctx context.Context, runID string, buffer int, mirror Mirror, log zerolog.Logger) *emitter {
	return &emitter{
		ctx:    ctx,
		runID:  runID,
		mirror: mirror,
		log:    log,
		now:    time.Now,
		out:    make(chan Event, buffer),
	}
}

// emit sends one event. It reports false if the stream is closed or the
// run's context is done.
func (e *emitter) emit(typ EventType, payload any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	ev := e.next(typ, payload)
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
		return false
	}
	e.publish(ev)
	return true
}

func (e *emitter) next(typ EventType, payload any) Event {
	e.seq++
	return Event{RunID: e.runID, Seq: e.seq, Type: typ, Payload: payload, Time: e.now()}
}

func (e *emitter) publish(ev Event) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.Publish(context.WithoutCancel(e.ctx), ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event mirror publish failed")
	}
}

func (e *emitter) status(msg string, searching *bool) bool {
	return e.emit(EventStatus, StatusPayload{Message: msg, IsSearching: searching})
}

// finish emits the terminal event and closes the stream. A run whose
// context is done gets its terminal event only if the buffer has room.
func (e *emitter) finish(typ EventType, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	defer close(e.out)

	ev := e.next(typ, payload)
	if e.ctx.Err() != nil {
		select {
		case e.out <- ev:
		default:
			return
		}
	} else {
		select {
		case e.out <- ev:
		case <-e.ctx.Done():
			return
		}
	}
	e.publish(ev)
}

func boolPtr(b bool) *bool { return &b }
