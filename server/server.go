// Package server exposes the orchestrator over HTTP with Server-Sent Events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/eventbus"
	"github.com/oraraka-deko/redraft/redraft"
)

// Runner starts assistant runs.
type Runner interface {
	Run(ctx context.Context, req redraft.Request) (*redraft.RunResponse, error)
}

// HistoryReader lists stored turns of a document.
type HistoryReader interface {
	History(ctx context.Context, documentID string, limit int) ([]redraft.Turn, error)
}

// RunFollower streams the mirrored events of every run.
type RunFollower interface {
	Subscribe(ctx context.Context) (<-chan eventbus.Envelope, error)
}

// Server routes HTTP requests to a Runner.
type Server struct {
	echo     *echo.Echo
	runner   Runner
	history  HistoryReader
	follower RunFollower
	metrics  http.Handler
	log      zerolog.Logger

	// historyLimit bounds the turns loaded when a request omits history.
	historyLimit int
}

// Option configures a Server.
type Option func(*Server)

// WithHistory loads stored turns for requests that carry no history and
// serves them on the document history endpoint.
func WithHistory(h HistoryReader, limit int) Option {
	return func(s *Server) {
		s.history = h
		s.historyLimit = limit
	}
}

// WithRunFollower serves the run events endpoint from f.
func WithRunFollower(f RunFollower) Option { return func(s *Server) { s.follower = f } }

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the access and error logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// New builds the server and registers its routes.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{runner: runner, log: zerolog.Nop(), historyLimit: 20}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("request")
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	api := e.Group("/api/v1")
	api.POST("/assist", s.assist)
	if s.history != nil {
		api.GET("/documents/:id/history", s.documentHistory)
	}
	if s.follower != nil {
		api.GET("/runs/:id/events", s.followRun)
	}
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	s.echo = e
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for open streams.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) assist(c echo.Context) error {
	var req redraft.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "request body is not valid JSON"})
	}

	ctx := c.Request().Context()
	if req.History == nil && s.history != nil && req.DocumentID != "" {
		h, err := s.history.History(ctx, req.DocumentID, s.historyLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("document_id", req.DocumentID).Msg("loading stored history failed")
		} else {
			req.History = h
		}
	}

	resp, err := s.runner.Run(ctx, req)
	if err != nil {
		var verr *redraft.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: verr.Error()})
		}
		s.log.Error().Err(err).Msg("run rejected")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal", Message: "the run could not be started"})
	}

	w := c.Response()
	startStream(w, resp.RunID)

	for ev := range resp.Events {
		if err := writeEvent(w, ev); err != nil {
			s.log.Debug().Err(err).Str("run_id", resp.RunID).Msg("client went away")
			break
		}
		w.Flush()
	}
	// Drain so the run never blocks on a gone client.
	for range resp.Events {
	}
	<-resp.Done
	return nil
}

func (s *Server) documentHistory(c echo.Context) error {
	turns, err := s.history.History(c.Request().Context(), c.Param("id"), 0)
	if err != nil {
		s.log.Error().Err(err).Msg("listing history failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal", Message: "history is unavailable"})
	}
	if turns == nil {
		turns = []redraft.Turn{}
	}
	return c.JSON(http.StatusOK, map[string]any{"history": turns})
}

// followRun streams the events of a run started elsewhere, as mirrored
// on the event bus. Only events published after the subscription are seen.
// The stream ends after the run's terminal event.
func (s *Server) followRun(c echo.Context) error {
	runID := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	envs, err := s.follower.Subscribe(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("subscribing to run events failed")
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "run events are unavailable"})
	}

	w := c.Response()
	startStream(w, runID)

	var seq sequencer
	for env := range envs {
		if env.RunID != runID {
			continue
		}
		for _, e := range seq.push(env) {
			if err := writeFrame(w, e.Seq, e.Type, e.Payload); err != nil {
				s.log.Debug().Err(err).Str("run_id", runID).Msg("follower went away")
				return nil
			}
			w.Flush()
		}
		if seq.done {
			return nil
		}
	}
	return nil
}

// sequencer releases the envelopes of one run in Seq order. Bus delivery
// order is not guaranteed, so envelopes ahead of the next expected one wait
// in pending. The terminal event releases whatever is pending, gaps
// included.
type sequencer struct {
	next    int
	pending map[int]eventbus.Envelope
	done    bool
}

func (q *sequencer) push(env eventbus.Envelope) []eventbus.Envelope {
	if q.done {
		return nil
	}
	if q.pending == nil {
		q.pending = make(map[int]eventbus.Envelope)
		q.next = env.Seq
	}
	if env.Seq < q.next {
		return nil
	}
	q.pending[env.Seq] = env

	var out []eventbus.Envelope
	for {
		e, ok := q.pending[q.next]
		if !ok {
			break
		}
		delete(q.pending, q.next)
		q.next++
		out = append(out, e)
		if terminal(e.Type) {
			q.done = true
			return out
		}
	}
	if terminal(env.Type) {
		for _, k := range slices.Sorted(maps.Keys(q.pending)) {
			out = append(out, q.pending[k])
		}
		clear(q.pending)
		q.done = true
	}
	return out
}

func terminal(t redraft.EventType) bool {
	return t == redraft.EventComplete || t == redraft.EventError
}

func startStream(w *echo.Response, runID string) {
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Run-Id", runID)
	w.WriteHeader(http.StatusOK)
	w.Flush()
}

func writeEvent(w io.Writer, ev redraft.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	return writeFrame(w, ev.Seq, ev.Type, data)
}

// writeFrame writes one SSE frame: the event type, its sequence number as
// the id and the JSON payload as data.
func writeFrame(w io.Writer, seq int, typ redraft.EventType, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, data)
	return err
}

// ShutdownTimeout is how long Shutdown waits for open streams by default.
const ShutdownTimeout = 30 * time.Second
