package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/apiingest/internal/config"
	"github.com/dgallion1/apiingest/internal/metrics"
	"github.com/dgallion1/apiingest/internal/pipeline"
	"github.com/dgallion1/apiingest/internal/store"
)

// Ingester accepts asynchronous ingest jobs.
type Ingester interface {
	Submit(job *pipeline.Job) error
	GetJob(id string) *pipeline.Job
	QueueDepth() int
	Stats() map[string]pipeline.StatsSnapshot
}

// Catalog reads and deletes stored specs.
type Catalog interface {
	Get(ctx context.Context, id int64) (*store.Spec, error)
	List(ctx context.Context, q store.ListQuery) (*store.Page, error)
	Delete(ctx context.Context, id int64) error
	Tags(ctx context.Context) ([]store.TagCount, error)
}

// Server is the HTTP API server for apiingest.
type Server struct {
	router       chi.Router
	orchestrator Ingester
	specs        Catalog
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch Ingester, specs Catalog, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		specs:        specs,
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
	r.Handle("/metrics", metrics.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/convert", s.handleConvert)
		r.Post("/api/convert/chunks", s.handleConvertChunks)
		r.Post("/api/convert/tools", s.handleConvertTools)

		r.Post("/api/specs", s.handleIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)

		r.Get("/api/specs", s.handleListSpecs)
		r.Get("/api/tags", s.handleListTags)
		r.Route("/api/specs/{specID}", func(r chi.Router) {
			r.Get("/", s.handleGetSpec)
			r.Delete("/", s.handleDeleteSpec)
			r.Get("/markdown", s.handleSpecMarkdown)
			r.Get("/original", s.handleSpecOriginal)
			r.Get("/html", s.handleSpecHTML)
			r.Get("/outline", s.handleSpecOutline)
			r.Get("/chunks", s.handleSpecChunks)
			r.Get("/chunks/{kind}/*", s.handleSpecChunk)
			r.Get("/tools", s.handleSpecTools)
		})

		r.Get("/api/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
