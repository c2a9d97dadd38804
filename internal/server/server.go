package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/gosuda/relay/internal/api/v1"
	"github.com/gosuda/relay/internal/api/ws"
	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/pipeline"
	"github.com/gosuda/relay/internal/server/middleware"
	redisstore "github.com/gosuda/relay/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	pipe       *pipeline.Pipeline
	store      *redisstore.Store // nil when Redis is not configured
	wsHub      *ws.Hub           // nil when Redis is not configured
	cfg        *config.Config
}

// New creates a Server with all routes wired. store may be nil; WebSocket
// observer routes are only mounted when Redis is available.
func New(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline, store *redisstore.Store) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		pipe:   pipe,
		store:  store,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

		apiConfig := huma.DefaultConfig("Relay API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, pipe)

		// The SSE endpoint writes raw event frames, so it sits next to the
		// huma operations as a plain handler.
		r.Post("/chat/stream", v1.StreamHandler(pipe))
	})

	// WebSocket observer routes require the Redis mirror.
	if store != nil {
		hub := ws.NewHub(store)
		s.wsHub = hub
		router.Route("/ws", func(r chi.Router) {
			registerWSRoutes(r, hub)
		})
	}

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
