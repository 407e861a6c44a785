package redraft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCoordinator_MergeRules(t *testing.T) {
	sc := newSearchCoordinator(&fakeSearcher{}, 5, zerolog.Nop(), nopRecorder{})
	sc.finding.Query = "first"

	sc.merge(SearchResult{Text: "one", Sources: []string{"a", "b"}})
	sc.merge(SearchResult{Text: "", Sources: []string{"b", "", "c"}})
	sc.merge(SearchResult{Text: "two", Sources: []string{"a"}})

	f := sc.snapshot()
	assert.Equal(t, "first", f.Query)
	assert.Equal(t, "two", f.Text, "last text wins")
	assert.Equal(t, []string{"a", "b", "c"}, f.Sources)

	f.Sources[0] = "mutated"
	assert.Equal(t, "a", sc.snapshot().Sources[0], "snapshot is a copy")
}

func TestSearchCoordinator_Tool(t *testing.T) {
	searcher := &fakeSearcher{results: map[string]SearchResult{"go": {Text: "Go is a language", Sources: []string{"https://go.dev"}}}}
	sc := newSearchCoordinator(searcher, 5, zerolog.Nop(), nopRecorder{})

	tools, handlers := sc.tool()
	require.Len(t, tools, 1)
	assert.Equal(t, SearchToolName, tools[0].Name)
	assert.Equal(t, []string{"query"}, tools[0].ParametersSchema["required"])

	out, err := handlers[SearchToolName](context.Background(), map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, "Go is a language", out.(map[string]any)["text"])
	assert.True(t, sc.used())
	assert.Equal(t, "go", sc.snapshot().Query)
}

func TestSearchCoordinator_CallLimit(t *testing.T) {
	searcher := &fakeSearcher{results: map[string]SearchResult{}}
	sc := newSearchCoordinator(searcher, 1, zerolog.Nop(), nopRecorder{})

	sc.invoke(context.Background(), "a")
	out := sc.invoke(context.Background(), "b")
	assert.Contains(t, out, "error")
	assert.Equal(t, []string{"a"}, searcher.queries, "second call must not reach the searcher")
	assert.Equal(t, "a", sc.snapshot().Query, "first query wins")
}

func TestSearchCoordinator_WaitForText(t *testing.T) {
	t.Run("not used", func(t *testing.T) {
		sc := newSearchCoordinator(&fakeSearcher{}, 3, zerolog.Nop(), nopRecorder{})
		start := time.Now()
		_, ok := sc.waitForText(context.Background(), time.Second, 10)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("wakes on text", func(t *testing.T) {
		sc := newSearchCoordinator(&fakeSearcher{}, 3, zerolog.Nop(), nopRecorder{})
		sc.calls = 1

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
			sc.merge(SearchResult{Text: "late"})
		}()
		f, ok := sc.waitForText(context.Background(), time.Hour, 3)
		wg.Wait()
		assert.True(t, ok)
		assert.Equal(t, "late", f.Text)
	})

	t.Run("bounded", func(t *testing.T) {
		sc := newSearchCoordinator(&fakeSearcher{}, 3, zerolog.Nop(), nopRecorder{})
		sc.calls = 1
		start := time.Now()
		_, ok := sc.waitForText(context.Background(), 5*time.Millisecond, 4)
		elapsed := time.Since(start)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
	})

	t.Run("context canceled", func(t *testing.T) {
		sc := newSearchCoordinator(&fakeSearcher{}, 3, zerolog.Nop(), nopRecorder{})
		sc.calls = 1
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, ok := sc.waitForText(ctx, time.Hour, 100)
		assert.False(t, ok)
	})
}
