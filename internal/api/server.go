package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/otis-dictation/otis/internal/config"
	"github.com/otis-dictation/otis/internal/metrics"
)

type Server struct {
	http    *http.Server
	handler http.Handler
	log     zerolog.Logger
}

// ServerOptions carries the daemon components the API exposes. Recorder and
// Debug may be nil.
type ServerOptions struct {
	Session  Dictation
	History  History
	Settings SettingsStore
	Backends BackendCatalog
	Events   EventSource
	Recorder RecorderProbe
	Debug    DebugSource

	Version   string
	StartTime time.Time
}

func NewServer(cfg *config.Config, opts ServerOptions, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Health endpoint, no auth
	health := NewHealthHandler(opts.History, opts.Recorder, opts.Backends, opts.Settings, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			NewSessionHandler(opts.Session, opts.History).Routes(r)
			NewHistoryHandler(opts.History, opts.Events).Routes(r)
			NewSettingsHandler(opts.Settings).Routes(r)
			NewStatsHandler(opts.History, opts.Backends, opts.Settings, opts.Debug).Routes(r)
			NewEventsHandler(opts.Events).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		handler: r,
		log:     log,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
