package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/history"
	"github.com/aatn/firegate/internal/monitor"
	"github.com/aatn/firegate/internal/web/middleware"
)

// Server exposes the health surface over HTTP
type Server struct {
	checker    monitor.HealthChecker
	monitor    *monitor.Monitor
	store      *history.Store
	port       int
	bind       string
	allowedNet *net.IPNet
	router     *chi.Mux
}

// NewServer creates the HTTP server. monitor and store may be nil; the
// corresponding endpoints respond 503.
func NewServer(checker monitor.HealthChecker, mon *monitor.Monitor, store *history.Store, port int, bind string, allowedNet *net.IPNet) *Server {
	s := &Server{
		checker:    checker,
		monitor:    mon,
		store:      store,
		port:       port,
		bind:       bind,
		allowedNet: allowedNet,
		router:     chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.AllowSubnet(s.allowedNet))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Route("/api/health", func(r chi.Router) {
		r.Get("/last", s.handleLast)
		r.Get("/history", s.handleHistory)
	})
	s.router.Get("/ws/health", s.handleHealthStream)
}

// Router returns the configured router (exposed for tests)
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow long-lived websocket connections
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
