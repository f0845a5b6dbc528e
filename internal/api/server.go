// Package api exposes the pipeline over HTTP: a public grade-ingestion and
// prompt-resolution surface, an authenticated admin surface for the
// improvement lifecycle, and a websocket event feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/grading"
	"github.com/skillpulse/skillpulse/internal/improvement"
	"github.com/skillpulse/skillpulse/internal/registry"
	"github.com/skillpulse/skillpulse/internal/resolver"
	"github.com/skillpulse/skillpulse/internal/security"
)

// Server is the HTTP API server.
type Server struct {
	port        int
	store       *registry.Store
	ingestor    *grading.Ingestor
	svc         *improvement.Service
	detector    *improvement.Detector
	resolver    *resolver.Resolver
	auth        *security.Authenticator
	hub         *events.Hub
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *slog.Logger
	httpServer  *http.Server
}

// Deps bundles the services the server exposes.
type Deps struct {
	Store    *registry.Store
	Ingestor *grading.Ingestor
	Service  *improvement.Service
	Detector *improvement.Detector
	Resolver *resolver.Resolver
	Auth     *security.Authenticator
	Hub      *events.Hub
}

// NewServer creates a new API server. A nil jwtSecret disables admin
// authentication (dev mode).
func NewServer(port int, deps Deps, jwtSecret []byte, tokenExpiry time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 12 * time.Hour
	}
	return &Server{
		port:        port,
		store:       deps.Store,
		ingestor:    deps.Ingestor,
		svc:         deps.Service,
		detector:    deps.Detector,
		resolver:    deps.Resolver,
		auth:        deps.Auth,
		hub:         deps.Hub,
		jwtSecret:   jwtSecret,
		tokenExpiry: tokenExpiry,
		logger:      logger.With("component", "api"),
	}
}

// Handler builds the full route table. Split from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public surface: grade ingestion and prompt resolution must work
	// without operator credentials.
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/grades", s.handleGrades)
	mux.HandleFunc("/api/resolve", s.handleResolve)
	mux.HandleFunc("/api/auth/token", s.handleToken)

	// Admin surface.
	auth := security.AuthMiddleware(s.jwtSecret)
	mux.Handle("/api/skills", auth(http.HandlerFunc(s.handleSkills)))
	mux.Handle("/api/skills/", auth(http.HandlerFunc(s.handleSkillDetail)))
	mux.Handle("/api/improvements", auth(http.HandlerFunc(s.handleImprovements)))
	mux.Handle("/api/improvements/", auth(http.HandlerFunc(s.handleImprovementDetail)))
	mux.Handle("/api/events", auth(http.HandlerFunc(s.handleEvents)))

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.SubscriberCount(),
	})
}
