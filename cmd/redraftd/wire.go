package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/eventbus"
	"github.com/oraraka-deko/redraft/internal/profile"
	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/metrics"
	"github.com/oraraka-deko/redraft/redraft"
	"github.com/oraraka-deko/redraft/search"
	"github.com/oraraka-deko/redraft/store"
)

// app holds the collaborators of one process.
type app struct {
	orch    *redraft.Orchestrator
	db      *store.SQLite
	metrics *metrics.Recorder
	log     zerolog.Logger

	// follower serves the run events endpoint. Only the in-process bus has
	// one; a Redis stream consumer group would split events across followers.
	follower *eventbus.Bus

	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp wires the orchestrator from the profile. Optional backends are
// skipped when their settings are empty. Without a Redis stream, runs are
// mirrored in-process only when follow is set.
func newApp(ctx context.Context, p *profile.Profile, log zerolog.Logger, follow bool) (*app, error) {
	a := &app{log: log}
	gen := llm.New(p.LLMConfig(&log))
	opts := []redraft.Option{
		redraft.WithConfig(p.OrchestratorConfig()),
		redraft.WithLogger(log),
	}

	a.metrics = metrics.New(metrics.DefaultConfig())
	opts = append(opts, redraft.WithRecorder(a.metrics))

	var rdb *redis.Client
	if p.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: p.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", p.RedisAddr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, redraft.WithQuotaGate(store.NewRedisQuota(rdb, p.PremiumLimit, p.QuotaWindow)))
	} else {
		opts = append(opts, redraft.WithQuotaGate(store.NewMemoryQuota(p.PremiumLimit, p.QuotaWindow)))
	}

	if p.SQLiteDSN != "" {
		db, err := store.OpenSQLite(ctx, p.SQLiteDSN)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)

		backend := p.Tiers[p.DefaultTier]
		backend.Tier = p.DefaultTier
		opts = append(opts,
			redraft.WithDocuments(db),
			redraft.WithHistorySink(db),
			redraft.WithDistiller(redraft.NewLLMDistiller(gen, backend, db, db, log)),
		)
	}

	if p.GoogleAPIKey != "" {
		gc, err := llm.NewGenAIClient(ctx, p.LLMConfig(&log))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("search client: %w", err)
		}
		opts = append(opts, redraft.WithSearcher(search.NewGoogleSearcher(gc, p.SearchModel, log)))
	}

	var bus *eventbus.Bus
	switch {
	case p.EventsRedisStream:
		b, err := eventbus.NewRedisStream(rdb, "", "", log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		bus = b
	case follow:
		bus = eventbus.NewGoChannel(log)
		a.follower = bus
	}
	if bus != nil {
		a.closers = append(a.closers, bus.Close)
		opts = append(opts, redraft.WithMirror(bus))
	}

	orch, err := redraft.New(gen, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}
