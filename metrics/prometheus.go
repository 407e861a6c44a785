// Package metrics exports redraft run metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oraraka-deko/redraft/redraft"
)

// Recorder implements redraft.Recorder on a Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	downgrades  *prometheus.CounterVec
	searches    *prometheus.CounterVec
	schedules   *prometheus.CounterVec
	changes     prometheus.Histogram
	duplicates  prometheus.Counter
	missing     prometheus.Counter
	distillRuns *prometheus.CounterVec
}

var _ redraft.Recorder = (*Recorder)(nil)

// Config configures the recorder.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the run latency histogram (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}
}

// New creates a recorder and registers its collectors.
func New(cfg Config) *Recorder {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "runs_total",
			Help:      "Finished assistant runs.",
		}, []string{"mode", "tier", "outcome"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "redraft",
			Name:      "run_duration_seconds",
			Help:      "Wall time of assistant runs.",
			Buckets:   cfg.LatencyBuckets,
		}, []string{"mode", "tier"}),
		downgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "model_downgrades_total",
			Help:      "Premium tier requests served by the default backend.",
		}, []string{"tier", "reason"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "search_calls_total",
			Help:      "Web search tool invocations.",
		}, []string{"success"}),
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "change_schedules_total",
			Help:      "Change map generations by scheduling decision.",
		}, []string{"schedule"}),
		changes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "redraft",
			Name:      "change_map_entries",
			Help:      "Entries per generated change map.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "change_map_duplicates_total",
			Help:      "Originals generated more than once.",
		}),
		missing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "change_map_missing_anchors_total",
			Help:      "Originals not found in the current text.",
		}),
		distillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redraft",
			Name:      "context_distillations_total",
			Help:      "Document context distillations by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		r.runs, r.runLatency, r.downgrades, r.searches, r.schedules,
		r.changes, r.duplicates, r.missing, r.distillRuns,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RunFinished(mode redraft.ActionMode, tier, outcome string, d time.Duration) {
	r.runs.WithLabelValues(string(mode), tier, outcome).Inc()
	r.runLatency.WithLabelValues(string(mode), tier).Observe(d.Seconds())
}

func (r *Recorder) ModelDowngraded(tier, reason string) {
	r.downgrades.WithLabelValues(tier, reason).Inc()
}

func (r *Recorder) SearchCalled(ok bool) {
	r.searches.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (r *Recorder) ChangesScheduled(s redraft.Schedule) {
	r.schedules.WithLabelValues(string(s)).Inc()
}

func (r *Recorder) ChangesProduced(entries, duplicates, missing int) {
	r.changes.Observe(float64(entries))
	r.duplicates.Add(float64(duplicates))
	r.missing.Add(float64(missing))
}

func (r *Recorder) ContextDistilled(updated bool, err error) {
	result := "unchanged"
	switch {
	case err != nil:
		result = "error"
	case updated:
		result = "updated"
	}
	r.distillRuns.WithLabelValues(result).Inc()
}
