// Package statusapi serves the daemon's read-only HTTP surface: health, the
// current playback and display state, metrics, and an optional live frame
// stream.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/matrix"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/observability"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
)

const shutdownTimeout = 5 * time.Second

// PlaybackView is the playback state with the progress estimate resolved.
type PlaybackView struct {
	playback.State
	ProgressMs  uint64 `json:"progress_ms"`
	DurationMs  uint64 `json:"duration_ms"`
	RemainingMs int64  `json:"remaining_ms"`
	OffsetPx    int    `json:"offset_px"`
}

// ProviderView describes the status source.
type ProviderView struct {
	LastFetch time.Time `json:"last_fetch,omitempty"`
	Name      string    `json:"name"`
	LastError string    `json:"last_error,omitempty"`
	Connected bool      `json:"connected"`
}

// StateView is the body of /api/state.
type StateView struct {
	Now      time.Time           `json:"now"`
	Provider ProviderView        `json:"provider"`
	Display  matrix.DisplayState `json:"display"`
	Playback PlaybackView        `json:"playback"`
}

// StateSource produces the current state.
type StateSource interface {
	View(now time.Time) StateView
}

// HealthSource reports component health.
type HealthSource interface {
	Checks() []observability.HealthCheck
	GetOverallHealth() observability.HealthStatus
}

// MetricsSource lists metrics.
type MetricsSource interface {
	Snapshot() []*observability.Metric
}

// Options wires the server to the rest of the daemon. Any source may be nil,
// in which case its route is not mounted.
type Options struct {
	State   StateSource
	Health  HealthSource
	Metrics MetricsSource
	Frames  http.Handler
	Logger  *logging.Logger
}

// Server is the status API.
type Server struct {
	router  chi.Router
	logger  *logging.Logger
	options Options
}

type healthResponse struct {
	Status observability.HealthStatus  `json:"status"`
	Checks []observability.HealthCheck `json:"checks"`
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		logger:  logger.WithComponent("statusapi"),
		options: opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if opts.State != nil {
			r.Get("/state", s.handleState)
		}

		if opts.Metrics != nil {
			r.Get("/metrics", s.handleMetrics)
		}

		if opts.Frames != nil {
			r.Handle("/frames", opts.Frames)
		}
	})

	s.router = r

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("status api listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down status api: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("status api stopped: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: observability.StatusUnknown, Checks: []observability.HealthCheck{}}

	if s.options.Health != nil {
		resp.Status = s.options.Health.GetOverallHealth()
		resp.Checks = s.options.Health.Checks()
	}

	status := http.StatusOK
	if resp.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.options.State.View(time.Now()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.options.Metrics.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
