// Package api provides the admin HTTP surface for the Invite Warden server.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/invitewarden/invitewarden-server/internal/http/response"
	"github.com/invitewarden/invitewarden-server/internal/store"
	"github.com/invitewarden/invitewarden-server/internal/tracker"
)

// Server holds dependencies for the admin HTTP handlers.
type Server struct {
	store   *store.Store
	tracker *tracker.Tracker
	rules   RuleSource
	router  *chi.Mux
	logger  *slog.Logger

	// retroactiveRuns tracks in-flight retroactive passes per guild.
	retroactiveRuns sync.Map
}

// RuleSource exposes the currently loaded reward rules for inspection.
type RuleSource interface {
	RuleCount() int
	Path() string
}

// NewServer creates the admin HTTP server with all routes configured.
func NewServer(store *store.Store, trk *tracker.Tracker, rules RuleSource, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		tracker: trk,
		rules:   rules,
		router:  chi.NewRouter(),
		logger:  logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// API v1, scoped per guild.
	s.router.Route("/api/v1/guilds/{guildID}", func(r chi.Router) {
		r.Route("/mappings", func(r chi.Router) {
			r.Use(s.rateLimitMutations)
			r.Post("/", s.handleAddMapping)
			r.Delete("/{inviterID}/{inviteeID}", s.handleRemoveMapping)
		})

		r.Get("/inviters/{inviterID}/invitees", s.handleListInvitees)

		r.Get("/stats", s.handleGetStats)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Post("/retroactive", s.handleRetroactive)
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{
		"status": "healthy",
	}
	if s.rules != nil {
		health["rules_loaded"] = s.rules.RuleCount()
		health["rules_path"] = s.rules.Path()
	}
	response.Success(w, health, s.logger)
}
