// Package profile holds the process configuration of redraftd.
package profile

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/redraft"
)

// stderr is where Logger writes.
var stderr io.Writer = os.Stderr

// Profile is configuration to start the server or a one-shot run.
type Profile struct {
	Addr      string `mapstructure:"addr"`
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	OpenAIAPIKey  string        `mapstructure:"openai-api-key"`
	OpenAIBaseURL string        `mapstructure:"openai-base-url"`
	GoogleAPIKey  string        `mapstructure:"google-api-key"`
	LLMTimeout    time.Duration `mapstructure:"llm-timeout"`

	DefaultTier string                     `mapstructure:"default-tier"`
	Tiers       map[string]redraft.Backend `mapstructure:"tiers"`

	SQLiteDSN    string        `mapstructure:"sqlite-dsn"`
	RedisAddr    string        `mapstructure:"redis-addr"`
	PremiumLimit int           `mapstructure:"premium-limit"`
	QuotaWindow  time.Duration `mapstructure:"quota-window"`

	EarlyStartChars    int           `mapstructure:"early-start-chars"`
	EarlyStartDeltas   int           `mapstructure:"early-start-deltas"`
	SearchPollInterval time.Duration `mapstructure:"search-poll-interval"`
	SearchPollAttempts int           `mapstructure:"search-poll-attempts"`
	SearchModel        string        `mapstructure:"search-model"`

	// EventsRedisStream mirrors run events to Redis Streams instead of the
	// in-process channel. Requires RedisAddr.
	EventsRedisStream bool `mapstructure:"events-redis-stream"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("llm-timeout", 2*time.Minute)
	v.SetDefault("default-tier", "basic")
	v.SetDefault("premium-limit", 20)
	v.SetDefault("quota-window", 24*time.Hour)
	v.SetDefault("early-start-chars", 160)
	v.SetDefault("early-start-deltas", 12)
	v.SetDefault("search-poll-interval", 250*time.Millisecond)
	v.SetDefault("search-poll-attempts", 20)
	v.SetDefault("search-model", "gemini-2.5-flash")
}

// Load reads a profile from v. An empty tier catalog takes the default
// catalog.
func Load(v *viper.Viper) (*Profile, error) {
	p := &Profile{}
	if err := v.Unmarshal(p); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if len(p.Tiers) == 0 {
		p.Tiers = redraft.DefaultTiers()
	}
	return p, nil
}

// Validate checks that the profile can start a service.
func (p *Profile) Validate() error {
	if p.Addr != "" {
		if _, _, err := net.SplitHostPort(p.Addr); err != nil {
			return errors.Wrapf(err, "invalid addr %q", p.Addr)
		}
	}
	if p.OpenAIAPIKey == "" && p.GoogleAPIKey == "" {
		return errors.New("one of openai-api-key or google-api-key is required")
	}
	if _, ok := p.Tiers[p.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q is not in the tier catalog", p.DefaultTier)
	}
	for id, b := range p.Tiers {
		if b.Model == "" {
			return fmt.Errorf("tier %q has no model", id)
		}
		switch b.Provider {
		case llm.ProviderOpenAI:
			if p.OpenAIAPIKey == "" {
				return fmt.Errorf("tier %q needs openai-api-key", id)
			}
		case llm.ProviderGoogle:
			if p.GoogleAPIKey == "" {
				return fmt.Errorf("tier %q needs google-api-key", id)
			}
		default:
			return fmt.Errorf("tier %q has unknown provider %q", id, b.Provider)
		}
	}
	if p.EventsRedisStream && p.RedisAddr == "" {
		return errors.New("events-redis-stream requires redis-addr")
	}
	return nil
}

// LLMConfig returns the generation client configuration.
func (p *Profile) LLMConfig(log *zerolog.Logger) llm.Config {
	return llm.Config{
		OpenAIAPIKey:  p.OpenAIAPIKey,
		OpenAIBaseURL: p.OpenAIBaseURL,
		GoogleAPIKey:  p.GoogleAPIKey,
		Timeout:       p.LLMTimeout,
		Logger:        log,
		DetectEnv:     true,
	}
}

// OrchestratorConfig returns the orchestrator configuration.
func (p *Profile) OrchestratorConfig() redraft.Config {
	return redraft.Config{
		DefaultTier:        p.DefaultTier,
		Tiers:              p.Tiers,
		EarlyStartChars:    p.EarlyStartChars,
		EarlyStartDeltas:   p.EarlyStartDeltas,
		SearchPollInterval: p.SearchPollInterval,
		SearchPollAttempts: p.SearchPollAttempts,
	}
}

// Logger builds the process logger from the log level and format.
func (p *Profile) Logger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(p.LogLevel))
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "invalid log-level %q", p.LogLevel)
	}
	var l zerolog.Logger
	switch p.LogFormat {
	case "json":
		l = zerolog.New(zerolog.SyncWriter(stderr)).With().Timestamp().Logger()
	case "console", "":
		l = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log-format %q", p.LogFormat)
	}
	return l.Level(level), nil
}
