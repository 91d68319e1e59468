// Package server exposes the read-only HTTP API: health, event listings
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/config"
	"github.com/elonfeng/intelhub/internal/store"
	"github.com/elonfeng/intelhub/pkg/event"
	"github.com/elonfeng/intelhub/pkg/score"
)

const (
	defaultLimit = 200
	highLimit    = 500
	maxLimit     = 1000

	shutdownTimeout = 10 * time.Second
)

// Reader is the subset of the store the API needs.
type Reader interface {
	QueryRecent(ctx context.Context, opts store.QueryOpts) ([]event.Event, error)
	Count(ctx context.Context) (int, error)
}

// Server provides the HTTP API.
type Server struct {
	store  Reader
	cfg    *config.Holder
	engine *score.Engine
	log    zerolog.Logger
	now    func() time.Time
	port   int
}

// New creates a server listening on the configured port.
func New(st Reader, cfg *config.Holder, engine *score.Engine, log zerolog.Logger) *Server {
	return &Server{
		store:  st,
		cfg:    cfg,
		engine: engine,
		log:    log,
		now:    time.Now,
		port:   cfg.Load().Config.Server.Port,
	}
}

func (s *Server) String() string { return "http-server" }

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("health count failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"events":         n,
		"rules_version":  s.engine.Version(),
		"config_version": s.cfg.Load().Version,
	})
}

// handleEvents lists events. Query parameters:
//
//	view       "high" orders by score and collapses repeated headlines
//	since      RFC 3339 or epoch ms; default is now minus retention
//	min_score  lower score bound; "high" defaults to the important threshold
//	limit      row cap
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := s.cfg.Load().Config

	high := q.Get("view") == "high"
	opts := store.QueryOpts{
		SinceMs: s.now().Add(-cfg.ParseRetention()).UnixMilli(),
		Limit:   defaultLimit,
		ByScore: high,
	}
	if high {
		opts.MinScore = cfg.ImportantThreshold
		opts.Limit = highLimit
	}

	if v := q.Get("since"); v != "" {
		ms, err := parseSince(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		opts.SinceMs = ms
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid min_score"})
			return
		}
		opts.MinScore = f
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		opts.Limit = min(n, maxLimit)
	}

	events, err := s.store.QueryRecent(r.Context(), opts)
	if err != nil {
		s.log.Error().Err(err).Msg("query events failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if high {
		events = CollapseHeadlines(events)
	}
	if events == nil {
		events = []event.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"count": len(events),
	})
}

func parseSince(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("invalid since %q", v)
	}
	return t.UnixMilli(), nil
}

var (
	spaceRun = regexp.MustCompile(`\s+`)
	nonWord  = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// headlineKey normalizes a headline for collapsing: lowercased, punctuation
// removed, whitespace squeezed, at most 160 runes.
func headlineKey(h string) string {
	k := strings.ToLower(h)
	k = spaceRun.ReplaceAllString(k, " ")
	k = nonWord.ReplaceAllString(k, "")
	k = strings.TrimSpace(k)
	if r := []rune(k); len(r) > 160 {
		k = string(r[:160])
	}
	return k
}

// CollapseHeadlines keeps one event per normalized headline. Input is
// expected in score-descending order, so the first occurrence is the best.
func CollapseHeadlines(events []event.Event) []event.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0:0]
	for _, ev := range events {
		k := headlineKey(ev.Headline)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
