package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraraka-deko/redraft/redraft"
)

func TestBus_GoChannelRoundTrip(t *testing.T) {
	bus := NewGoChannel(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	envs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, redraft.Event{
		RunID: "run-1", Seq: 2, Type: redraft.EventAssistantDelta,
		Payload: redraft.DeltaPayload{Delta: "Hello"}, Time: now,
	}))

	select {
	case env := <-envs:
		assert.Equal(t, "run-1", env.RunID)
		assert.Equal(t, 2, env.Seq)
		assert.Equal(t, redraft.EventAssistantDelta, env.Type)
		assert.True(t, now.Equal(env.Time))
		var p redraft.DeltaPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "Hello", p.Delta)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	bus := NewGoChannel(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	other := bus.WithTopic("elsewhere")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	envs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, other.Publish(ctx, redraft.Event{RunID: "r", Type: redraft.EventComplete, Payload: redraft.CompletePayload{}}))

	select {
	case env, ok := <-envs:
		if ok {
			t.Fatalf("unexpected event on default topic: %+v", env)
		}
	case <-ctx.Done():
	}
}

func TestBus_EncodeError(t *testing.T) {
	bus := NewGoChannel(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	err := bus.Publish(context.Background(), redraft.Event{Payload: make(chan int)})
	require.Error(t, err)
}
