package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/websoft9/sftpdesk/internal/config"
	"github.com/websoft9/sftpdesk/internal/metrics"
	"github.com/websoft9/sftpdesk/internal/server/handlers"
	"github.com/websoft9/sftpdesk/internal/server/middleware"
)

type Server struct {
	cfg        *config.Config
	client     handlers.FileClient
	router     chi.Router
	httpServer *http.Server
}

func New(cfg *config.Config, client handlers.FileClient) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		client: client,
	}

	s.setupRouter()

	// No read/write timeouts: transfers can run far longer than any fixed
	// bound, and the invoke socket is long lived.
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks
	r.Get("/health", handlers.Health(s.cfg.Version))
	r.Get("/ready", handlers.Ready)
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.CheckOrigin(s.cfg.CORSAllowedOrigins))
		r.Use(middleware.Auth(s.cfg.BridgeToken))
		r.Use(middleware.RateLimit(s.cfg.BridgeRateLimit, s.cfg.BridgeBurst))

		r.Route("/files", func(r chi.Router) {
			// Forces a CORS preflight for browser callers.
			r.Use(chimiddleware.AllowContentType("application/json"))
			r.Post("/list", handlers.ListFiles(s.client))
			r.Post("/download", handlers.DownloadFile(s.client))
			r.Post("/upload", handlers.UploadFile(s.client))
		})

		// Command bridge for the desktop frontend
		r.Get("/invoke", handlers.Invoke(s.client, s.cfg.CORSAllowedOrigins))
	})

	s.router = r
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Run serves the bridge on cfg.Addr() until ctx is cancelled, then shuts
// down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	client, err := NewFileClient(cfg)
	if err != nil {
		return err
	}
	srv, err := New(cfg, client)
	if err != nil {
		return err
	}

	if cfg.BridgeToken == "" && !isLoopback(cfg.BindAddr) {
		log.Warn().Str("bind", cfg.BindAddr).Msg("BRIDGE_TOKEN is empty on a non-loopback address; anyone who can reach the port can use it")
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
