package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/config"
	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
	"github.com/nesfrk81/ultimate64-sid-player/internal/pipeline"
	"github.com/nesfrk81/ultimate64-sid-player/internal/player"
)

// maxBodyBytes bounds JSON and BASIC source request bodies.
const maxBodyBytes = 1 << 20

// Server is the HTTP control surface of the player service.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	extractor    *extract.Extractor
	player       *player.Player
	table        *basic.TokenTable
	log          *slog.Logger
	cfg          config.Config

	// ctx outlives requests; playback sessions run under it.
	ctx context.Context
}

// NewServer creates and configures the HTTP server.
func NewServer(ctx context.Context, orch *pipeline.Orchestrator, ex *extract.Extractor, pl *player.Player, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		extractor:    ex,
		player:       pl,
		table:        basic.NewTokenTable(),
		log:          log,
		cfg:          cfg,
		ctx:          ctx,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.ServiceAPIKey, s.log))

		r.Post("/api/tokenize", s.handleTokenize)
		r.Post("/api/loader", s.handleLoader)

		r.Post("/api/extract", s.handleExtract)
		r.Get("/api/extract/{jobID}/status", s.handleExtractStatus)
		r.Get("/api/extract/{jobID}/content", s.handleExtractContent)
		r.Get("/api/extract/{jobID}/playlist", s.handleExtractPlaylist)

		r.Get("/api/player", s.handlePlayerState)
		r.Post("/api/player/start", s.handlePlayerStart)
		r.Post("/api/player/skip", s.handlePlayerSkip)
		r.Delete("/api/player", s.handlePlayerStop)

		r.Get("/api/stats/extract", s.handleExtractStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
