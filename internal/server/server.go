package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/domus/internal/api/v1"
	"github.com/gosuda/domus/internal/api/ws"
	"github.com/gosuda/domus/internal/config"
	"github.com/gosuda/domus/internal/metrics"
	"github.com/gosuda/domus/internal/server/middleware"
)

const healthTimeout = 2 * time.Second

// Store is the persistence surface the HTTP layer needs.
// *postgres.Store satisfies this interface.
type Store interface {
	v1.DataStore
	Ping(ctx context.Context) error
}

// Deps are the services the routes call into.
type Deps struct {
	Store    Store
	Auth     v1.AuthService
	Resolver middleware.PrincipalResolver
	Recorder middleware.Recorder
	Guard    v1.Authorizer
	Commands v1.CommandService
	Audit    v1.AuditQuerier
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all routes wired. ctx bounds the rate limiters'
// background cleanup.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(accessLog)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1 with two sub-groups:
	// 1. Unauthenticated group for auth endpoints.
	// 2. Authenticated group for all other endpoints.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Metrics.Instrument)

		r.Group(func(r chi.Router) {
			if cfg.Server.RateLimit > 0 {
				r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))
			}

			authConfig := huma.DefaultConfig("Domus Auth API", "1.0.0")
			authConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
			authConfig.OpenAPIPath = "/auth/openapi"
			authConfig.DocsPath = "/auth/docs"
			authConfig.SchemasPath = "/auth/schemas"
			authAPI := humachi.New(r, authConfig)
			registerAuthRoutes(authAPI, deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Resolver, deps.Recorder))
			r.Use(middleware.RequireTenant())
			if cfg.Server.RateLimit > 0 {
				r.Use(middleware.RateLimit(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))
			}

			apiConfig := huma.DefaultConfig("Domus API", "1.0.0")
			apiConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
			api := humachi.New(r, apiConfig)
			registerAPIRoutes(api, deps)
		})
	})

	// WebSocket routes. No metrics wrapper: the upgrade needs the raw writer.
	if deps.Hub != nil {
		router.Route("/ws", func(r chi.Router) {
			r.Use(middleware.Auth(deps.Resolver, deps.Recorder))
			r.Use(middleware.RequireTenant())
			registerWSRoutes(r, deps.Hub)
		})
	}

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := deps.Store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("healthz: store unreachable")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Handle("/metrics", metrics.Handler())

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
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

// accessLog writes one zerolog line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
