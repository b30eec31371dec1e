// Package api exposes the corpus router over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nevindra/mergerag"
)

// QueryRouter answers routed queries over a fixed set of corpora.
// *mergerag.Router implements it.
type QueryRouter interface {
	Route(ctx context.Context, query string) (mergerag.Response, error)
	Table() *mergerag.RouterTable
}

// Server is the HTTP API server for mergerag.
type Server struct {
	router    chi.Router
	queries   QueryRouter
	log       *slog.Logger
	authToken string
}

// NewServer creates and configures the HTTP server. When authToken is empty
// the API endpoints are unauthenticated.
func NewServer(q QueryRouter, log *slog.Logger, authToken string) *Server {
	s := &Server{
		queries:   q,
		log:       log,
		authToken: authToken,
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

	r.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken, s.log))
		}
		r.Get("/api/corpora", s.handleListCorpora)
		r.Post("/api/query", s.handleQuery)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"corpora": s.queries.Table().Len(),
	})
}
