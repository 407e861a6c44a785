package redraft

import (
	"time"

	"github.com/oraraka-deko/redraft/llm"
)

// Config tunes an Orchestrator. Zero fields take the defaults below.
type Config struct {
	// DefaultTier names the backend used when no premium tier is granted.
	DefaultTier string
	// Tiers maps a tier id to its backend. DefaultTier must be present.
	Tiers map[string]Backend

	// EarlyStartChars and EarlyStartDeltas are the narration thresholds
	// after which, without web search, the change map is generated
	// concurrently with the remaining narration.
	EarlyStartChars  int
	EarlyStartDeltas int

	// SearchPollInterval × SearchPollAttempts bounds the wait for search
	// findings before the change map is generated.
	SearchPollInterval time.Duration
	SearchPollAttempts int
	// MaxSearchCallsPerRun caps the searches one narration may trigger.
	MaxSearchCallsPerRun int
	// SearchFallbackText replaces empty narration when a search happened.
	SearchFallbackText string

	// EventBuffer is the capacity of a run's event channel.
	EventBuffer int
}

const (
	defaultTierID             = "basic"
	defaultEarlyStartChars    = 160
	defaultEarlyStartDeltas   = 12
	defaultSearchPollInterval = 250 * time.Millisecond
	defaultSearchPollAttempts = 20
	defaultMaxSearchCalls     = 3
	defaultEventBuffer        = 64
	defaultSearchFallbackText = "I searched the web and used what I found to prepare this response."
)

// DefaultTiers is the catalog used when Config.Tiers is empty.
func DefaultTiers() map[string]Backend {
	return map[string]Backend{
		"basic": {Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini"},
		"pro":   {Provider: llm.ProviderOpenAI, Model: "gpt-4o"},
		"flash": {Provider: llm.ProviderGoogle, Model: "gemini-2.5-flash"},
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultTier == "" {
		c.DefaultTier = defaultTierID
	}
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
	if c.EarlyStartChars <= 0 {
		c.EarlyStartChars = defaultEarlyStartChars
	}
	if c.EarlyStartDeltas <= 0 {
		c.EarlyStartDeltas = defaultEarlyStartDeltas
	}
	if c.SearchPollInterval <= 0 {
		c.SearchPollInterval = defaultSearchPollInterval
	}
	if c.SearchPollAttempts <= 0 {
		c.SearchPollAttempts = defaultSearchPollAttempts
	}
	if c.MaxSearchCallsPerRun <= 0 {
		c.MaxSearchCallsPerRun = defaultMaxSearchCalls
	}
	if c.SearchFallbackText == "" {
		c.SearchFallbackText = defaultSearchFallbackText
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}
