// Package httpapi implements the loopback REST surface for the entity
// store and the workflow engine (component E's REST side). The router
// setup — chi with RequestID/RealIP/Recoverer/Timeout middleware plus a
// Prometheus /metrics handle — is carried over from the teacher's
// internal/api/server.go, swapping its hand-rolled corsMiddleware for
// go-chi/cors (already a pack dependency) and its OpenAI/Ollama route
// tree for the entity/twin/command tree this spec defines.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// Server exposes the entity store and workflow engine over HTTP.
type Server struct {
	store          domain.EntityStore
	engine         domain.WorkflowEngine
	log            zerolog.Logger
	metricsEnabled bool
}

// New wires a Server over the given entity store and workflow engine.
func New(store domain.EntityStore, engine domain.WorkflowEngine, log zerolog.Logger) *Server {
	return &Server{store: store, engine: engine, log: log.With().Str("component", "http-api").Logger()}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Topic ids are 1-4 slash-separated segments (spec §4.E: "trailing empty
	// segments ... are optional on the URL path"), which chi's single-segment
	// {param} cannot capture. Routes that need to address one are mounted on
	// a wildcard and dispatched manually in entityTailRouter/commandRouter.
	r.Route("/te/v1/entities", func(r chi.Router) {
		r.Post("/", s.handleCreateEntity)
		r.Get("/", s.handleQueryEntities)
		r.Handle("/*", http.HandlerFunc(s.entityTailRouter))
	})

	r.Handle("/te/v1/commands/*", http.HandlerFunc(s.commandRouter))

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// splitTail trims and slash-splits a wildcard path remainder, dropping the
// empty trailing element a path ending in "/" would otherwise produce.
func splitTail(tail string) []string {
	tail = strings.Trim(tail, "/")
	if tail == "" {
		return nil
	}
	return strings.Split(tail, "/")
}

func statusForEntityErr(err error) int {
	var entityErr *domain.EntityError
	if !asEntityError(err, &entityErr) {
		return http.StatusInternalServerError
	}
	switch entityErr.Kind {
	case domain.EntityKindNotFound:
		return http.StatusNotFound
	case domain.EntityKindConflict, domain.EntityKindCycle:
		return http.StatusConflict
	case domain.EntityKindBadParent, domain.EntityKindBadKey, domain.EntityKindBadQuery:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func asEntityError(err error, target **domain.EntityError) bool {
	for err != nil {
		if e, ok := err.(*domain.EntityError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
