// Package api serves the HTTP status surface: the latest telemetry sample,
// stream health counters and debug charts.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/wrc.report/internal/httputil"
	"github.com/banshee-data/wrc.report/internal/stream"
	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/version"
	"github.com/banshee-data/wrc.report/internal/wrc/pipeline"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
	"github.com/banshee-data/wrc.report/internal/wrc/stats"
)

// Source is the ingest state the server reports on. *pipeline.Pipeline
// implements it.
type Source interface {
	Latest() (pipeline.Sample, bool)
	Tracker() *sequence.Tracker
	SpeedUnits() string
}

// TotalsSource reports cumulative ingest counters.
type TotalsSource interface {
	Totals() stats.Snapshot
}

// StreamSource reports gRPC subscriber counters.
type StreamSource interface {
	Stats() stream.Stats
}

type Server struct {
	source  Source
	totals  TotalsSource
	stream  StreamSource
	history *History
}

// NewServer returns a Server. totals, streams and history may be nil when
// the corresponding component is not running.
func NewServer(source Source, totals TotalsSource, streams StreamSource, history *History) *Server {
	return &Server{
		source:  source,
		totals:  totals,
		stream:  streams,
		history: history,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration at debug level.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Debug().
			Int("status", lrw.statusCode).
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Float64("ms", float64(time.Since(start).Nanoseconds())/1e6).
			Msg("http request")
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry/latest", s.showLatest)
	mux.HandleFunc("/api/telemetry/dashboard", s.showDashboard)
	mux.HandleFunc("/api/telemetry/stats", s.showStats)
	mux.HandleFunc("/api/telemetry/history", s.showHistory)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/debug/charts", s.handleCharts)
	return mux
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           LoggingMiddleware(s.ServeMux()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http api listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
		if err := server.Close(); err != nil {
			log.Warn().Err(err).Msg("http server force close error")
		}
	}
	return nil
}

// speedUnits returns the ?units= override or the server default.
func (s *Server) speedUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.source.SpeedUnits(), nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter %q, must be one of %s", u, units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) (pipeline.Sample, string, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return pipeline.Sample{}, "", false
	}
	u, err := s.speedUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return pipeline.Sample{}, "", false
	}
	sample, ok := s.source.Latest()
	if !ok {
		httputil.ServiceUnavailable(w, "no telemetry received yet")
		return pipeline.Sample{}, "", false
	}
	return sample, u, true
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	sample, u, ok := s.latest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sample.Document(u))
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	sample, u, ok := s.latest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, sample.Document(u).View.String()+"\n")
}

type statsResponse struct {
	Totals  *stats.Snapshot         `json:"totals,omitempty"`
	Streams []sequence.StreamStatus `json:"streams"`
	Clients *stream.Stats           `json:"subscribers,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := statsResponse{Streams: s.source.Tracker().Streams()}
	if s.totals != nil {
		t := s.totals.Totals()
		resp.Totals = &t
	}
	if s.stream != nil {
		st := s.stream.Stats()
		resp.Clients = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "history is not enabled")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	httputil.WriteJSONOK(w, s.history.Points(limit))
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
