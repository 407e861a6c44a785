package llm

import (
	"context"
	"fmt"
	"sync"
)

// fakeRound is one scripted stream round: text chunks, then optional tool calls.
type fakeRound struct {
	chunks []string
	calls  []StreamToolCall
}

// fakeProvider is a scripted providerClient.
type fakeProvider struct {
	mu sync.Mutex

	textOut callResult
	textErr error

	rounds    []fakeRound
	streamErr error
	infinite  bool

	plans   []callPlan
	results [][]StreamToolResult
}

func (f *fakeProvider) Text(_ context.Context, plan callPlan) (callResult, error) {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	f.mu.Unlock()
	return f.textOut, f.textErr
}

func (f *fakeProvider) Stream(ctx context.Context, plan callPlan, sink streamSink) error {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	f.mu.Unlock()

	if f.infinite {
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			sink.chunk(fmt.Sprintf("%d ", i))
		}
	}

	for i, r := range f.rounds {
		for _, c := range r.chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			sink.chunk(c)
		}
		if len(r.calls) == 0 {
			break
		}
		if i >= plan.maxRounds() {
			return fmt.Errorf("llm: exceeded maximum tool call rounds (%d)", plan.maxRounds())
		}
		res, err := sink.runTools(r.calls)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.results = append(f.results, res)
		f.mu.Unlock()
	}
	sink.usage(StreamUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7})
	return f.streamErr
}

func (f *fakeProvider) lastPlan() callPlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[len(f.plans)-1]
}
