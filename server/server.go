// Package server exposes the classification service over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"payclassd/llm"
	"payclassd/manager"
	"payclassd/store"
)

// classifier is the classification entry point the handlers dispatch to.
type classifier interface {
	Classify(ctx context.Context, req manager.Request) (*llm.Result, error)
}

// history is the optional audit log. A nil history disables recording and
// the listing endpoint returns an empty page.
type history interface {
	Record(ctx context.Context, paymentText, provider string, result *llm.Result) error
	ListRecent(ctx context.Context, limit int) ([]store.Classification, error)
}

// Config holds server configuration options.
type Config struct {
	ListenAddr string
	Logger     zerolog.Logger
}

// Server is the HTTP front end of the payclassd daemon.
type Server struct {
	classifier classifier
	history    history
	logger     zerolog.Logger
	validate   *validator.Validate
	httpServer *http.Server
}

// New creates the HTTP server. history may be nil.
func New(cfg Config, c classifier, h history) *Server {
	s := &Server{
		classifier: c,
		history:    h,
		logger:     cfg.Logger.With().Str("component", "http-server").Logger(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Post("/api/v1/classify", s.handleClassify)
	r.Get("/api/v1/classifications", s.handleListClassifications)
	r.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Gracefully stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with its status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request completed")
	})
}

// recoverer converts handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
