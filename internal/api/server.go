package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/redlinehq/redline/internal/blob"
	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/notify"
	"github.com/redlinehq/redline/internal/pipeline"
)

// Server is the HTTP trigger interface for the review pipeline.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	blobs        blob.Store
	notifier     *notify.Notifier
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, blobs blob.Store, notifier *notify.Notifier, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		blobs:        blobs,
		notifier:     notifier,
		log:          log,
		cfg:          cfg,
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

		r.Post("/api/review", s.handleSubmit)
		r.Get("/api/review/{jobID}/status", s.handleStatus)
		r.Get("/api/review/{jobID}/result", s.handleResult)
		r.Get("/api/review/{jobID}/report", s.handleReport)
		r.Get("/api/review/{jobID}/redline", s.handleRedline)
		r.Get("/api/review/{jobID}/events", s.handleEvents)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
