package redraft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/patch"
)

// changeMapSchema is the structured output of the change-map call.
var changeMapSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"changes": {
			Type:        "array",
			Description: "Edits to apply to the document, in order.",
			Items: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"original": {
						Type:        "string",
						Description: "Exact substring of the current document, or " + patch.AppendSentinel + " to append.",
					},
					"replacement": {
						Type:        "string",
						Description: "Plain text replacing original. Empty deletes it.",
					},
				},
				Required:             []string{"original", "replacement"},
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		},
	},
	Required:             []string{"changes"},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
}

type compiledSchema struct {
	resolved *jsonschema.Resolved
	asMap    map[string]any
}

var changeSchema = sync.OnceValues(func() (*compiledSchema, error) {
	resolved, err := changeMapSchema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("redraft: resolve change map schema: %w", err)
	}
	raw, err := json.Marshal(changeMapSchema)
	if err != nil {
		return nil, fmt.Errorf("redraft: marshal change map schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("redraft: decode change map schema: %w", err)
	}
	return &compiledSchema{resolved: resolved, asMap: m}, nil
})

type changePayload struct {
	Changes []struct {
		Original    string `json:"original"`
		Replacement string `json:"replacement"`
	} `json:"changes"`
}

// generateChanges runs the structured-output call with the run's backend
// and turns its entries into a normalized change map.
func (r *run) generateChanges(ctx context.Context, narration string, f SearchFinding) (*patch.ChangeMap, error) {
	cs, err := changeSchema()
	if err != nil {
		return nil, err
	}

	resp, err := r.o.gen.Text(ctx, llm.TextRequest{
		Provider:       r.sel.Backend.Provider,
		Model:          r.sel.Backend.Model,
		System:         changesSystem,
		Input:          changesInput(r.req, r.docContext, narration, f),
		Images:         r.req.images(),
		Mode:           llm.ModeStructuredJSON,
		ResponseSchema: cs.asMap,
		SchemaName:     "change_map",
		Labels:         map[string]string{"run_id": r.id},
	})
	if err != nil {
		return nil, fmt.Errorf("redraft: change map generation: %w", err)
	}
	if err := cs.resolved.Validate(resp.JSON); err != nil {
		return nil, fmt.Errorf("redraft: change map does not match schema: %w", err)
	}

	raw, err := json.Marshal(resp.JSON)
	if err != nil {
		return nil, fmt.Errorf("redraft: change map: %w", err)
	}
	var payload changePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("redraft: change map: %w", err)
	}

	entries := make([]patch.Entry, len(payload.Changes))
	for i, c := range payload.Changes {
		entries[i] = patch.Entry{Original: c.Original, Replacement: c.Replacement}
	}
	cm := patch.Build(entries)

	dups := cm.Duplicates()
	missing := patch.MissingAnchors(r.req.CurrentText, cm)
	if len(dups) > 0 {
		r.log.Warn().Strs("anchors", dups).Msg("several edits target the same anchor, keeping the last")
	}
	if len(missing) > 0 {
		r.log.Warn().Strs("anchors", missing).Msg("anchors not found in the current text")
	}
	r.o.rec.ChangesProduced(cm.Len(), len(dups), len(missing))
	return cm, nil
}

// narrateAndChange runs the edit pipeline: narration plus one change map,
// scheduled in one of three ways. With search, changes wait for narration
// and then for findings. Without search, they start as soon as narration
// passes the early-start thresholds, using the narration accumulated at
// that instant, or after narration completes if it never does.
func (r *run) narrateAndChange(ctx context.Context) (string, *patch.ChangeMap, error) {
	if r.search != nil {
		r.schedule(ScheduleAfterSearch)
		text, err := r.narrateAndComplete(ctx, nil)
		if err != nil {
			return "", nil, err
		}
		r.em.status("Preparing changes...", nil)

		f, ok := r.search.waitForText(ctx, r.o.cfg.SearchPollInterval, r.o.cfg.SearchPollAttempts)
		if !ok && r.search.used() {
			r.log.Warn().Msg("search findings not ready, generating changes without them")
		}
		cm, err := r.generateChanges(ctx, text, f)
		if err != nil {
			return text, nil, stageErr(ErrCodeChanges, err)
		}
		return text, cm, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		text    string
		cm      *patch.ChangeMap
		started bool
	)
	start := func(s Schedule, narration string) {
		started = true
		r.schedule(s)
		g.Go(func() error {
			m, err := r.generateChanges(gctx, narration, SearchFinding{})
			if err != nil {
				return stageErr(ErrCodeChanges, err)
			}
			cm = m
			return nil
		})
	}
	onProgress := func(narration string, deltas int) {
		if started {
			return
		}
		if utf8.RuneCountInString(narration) >= r.o.cfg.EarlyStartChars || deltas >= r.o.cfg.EarlyStartDeltas {
			start(ScheduleEager, narration)
		}
	}

	g.Go(func() error {
		t, err := r.narrateAndComplete(gctx, onProgress)
		if err != nil {
			return err
		}
		text = t
		r.em.status("Preparing changes...", nil)
		if !started {
			start(ScheduleDeferred, t)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return text, nil, err
	}
	return text, cm, nil
}

func (r *run) schedule(s Schedule) {
	r.log.Debug().Str("schedule", string(s)).Msg("change map scheduled")
	r.o.rec.ChangesScheduled(s)
}
