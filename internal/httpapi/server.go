// Package httpapi serves the schedule API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"timebox/internal/auth"
	"timebox/internal/schedule"

	logx "timebox/pkg/logx"
)

// Config holds the resolved server settings (durations already parsed).
type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RatePerSec float64
	RateBurst  int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// Must outlast the solver's full retry budget.
		c.WriteTimeout = 2 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

type Server struct {
	orch    *schedule.Orchestrator
	limiter *ownerLimiter
	log     logx.Logger

	srv *http.Server
}

func NewServer(cfg Config, orch *schedule.Orchestrator, verifier auth.Verifier, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Server{
		orch:    orch,
		limiter: newOwnerLimiter(cfg.RatePerSec, cfg.RateBurst),
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(verifier))

		r.Get("/schedule", s.handleList)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.middleware)
			r.Post("/schedule", s.handleAdd)
			r.Put("/schedule/{id}", s.handleEdit)
			r.Delete("/schedule/{id}", s.handleDelete)
			r.Put("/schedule/{id}/status", s.handleSetStatus)
		})
	})

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ApplyRate swaps the rate-limit settings live.
func (s *Server) ApplyRate(perSec float64, burst int) {
	s.limiter.Apply(perSec, burst)
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return s.srv.Close()
	}
	return nil
}
