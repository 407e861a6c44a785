package redraft

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/llm"
)

// Backend is a resolved generation target.
type Backend struct {
	Tier     string       `json:"tier" mapstructure:"-"`
	Provider llm.Provider `json:"provider" mapstructure:"provider"`
	Model    string       `json:"model" mapstructure:"model"`
}

// ModelSelection is decided once per run and never changes afterwards.
type ModelSelection struct {
	Backend Backend
	// RemainingUses is the premium quota left after this run's usage was
	// recorded, or nil when the default tier was selected.
	RemainingUses *int
	// DowngradeReason is set when a premium tier was requested but not
	// granted.
	DowngradeReason string
}

// Entitlement is the answer of a premium entitlement check.
type Entitlement struct {
	Allowed bool
	Reason  string
}

// QuotaGate enforces and records premium usage. RecordPremiumUsage must
// decrement at most once per call.
type QuotaGate interface {
	CheckPremiumEntitlement(ctx context.Context, userID string) (Entitlement, error)
	RecordPremiumUsage(ctx context.Context, userID string) (remaining int, err error)
}

// ModelRouter resolves a requested tier to a backend under a QuotaGate.
type ModelRouter struct {
	defaultTier string
	tiers       map[string]Backend
	gate        QuotaGate
	log         zerolog.Logger
}

// NewModelRouter creates a router. The default tier must be in tiers. A
// nil gate grants no premium usage.
func NewModelRouter(defaultTier string, tiers map[string]Backend, gate QuotaGate, log zerolog.Logger) (*ModelRouter, error) {
	if _, ok := tiers[defaultTier]; !ok {
		return nil, fmt.Errorf("redraft: default tier %q has no backend", defaultTier)
	}
	cp := make(map[string]Backend, len(tiers))
	for id, b := range tiers {
		b.Tier = id
		cp[id] = b
	}
	return &ModelRouter{defaultTier: defaultTier, tiers: cp, gate: gate, log: log}, nil
}

// Default returns the default backend.
func (r *ModelRouter) Default() Backend {
	return r.tiers[r.defaultTier]
}

// SelectModel resolves the backend for one run. A premium tier that cannot
// be granted falls back to the default backend without an error.
func (r *ModelRouter) SelectModel(ctx context.Context, userID, tier string) ModelSelection {
	if tier == "" || tier == r.defaultTier || userID == "" {
		return ModelSelection{Backend: r.Default()}
	}

	downgrade := func(reason string, err error) ModelSelection {
		r.log.Info().Err(err).
			Str("requested_tier", tier).
			Str("reason", reason).
			Msg("premium tier not granted, using default backend")
		return ModelSelection{Backend: r.Default(), DowngradeReason: reason}
	}

	backend, ok := r.tiers[tier]
	if !ok {
		return downgrade("unknown_tier", nil)
	}
	if r.gate == nil {
		return downgrade("no_quota_gate", nil)
	}

	ent, err := r.gate.CheckPremiumEntitlement(ctx, userID)
	if err != nil {
		return downgrade("entitlement_error", err)
	}
	if !ent.Allowed {
		reason := ent.Reason
		if reason == "" {
			reason = "quota_exhausted"
		}
		return downgrade(reason, nil)
	}

	remaining, err := r.gate.RecordPremiumUsage(ctx, userID)
	if err != nil {
		return downgrade("record_usage_failed", err)
	}
	return ModelSelection{Backend: backend, RemainingUses: &remaining}
}

// SearchAllowed reports whether userID may use web search, which is gated
// like a premium feature.
func (r *ModelRouter) SearchAllowed(ctx context.Context, userID string) bool {
	if userID == "" || r.gate == nil {
		return false
	}
	ent, err := r.gate.CheckPremiumEntitlement(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Msg("search entitlement check failed")
		return false
	}
	return ent.Allowed
}

// RecordSearchUsage records the usage unit consumed by a run that searched.
func (r *ModelRouter) RecordSearchUsage(ctx context.Context, userID string) error {
	if userID == "" || r.gate == nil {
		return nil
	}
	_, err := r.gate.RecordPremiumUsage(ctx, userID)
	return err
}
