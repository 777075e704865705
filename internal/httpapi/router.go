// Package httpapi exposes the research orchestrator over HTTP using a
// go-chi/chi router, implementing every route in SPEC_FULL.md §6.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/researchflow/orchestrator/internal/domainstore"
	"github.com/researchflow/orchestrator/internal/resource"
	"github.com/researchflow/orchestrator/internal/workflow"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	Store domainstore.Store
	Res   *resource.Manager
	Deps  workflow.Deps
}

// NewRouter assembles the chi.Router serving every route SPEC_FULL.md §6
// names: the streaming endpoint, the objective/task/step/workflow CRUD
// surface, scheduler introspection, health, and metrics.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	// No middleware.Timeout here: /api/v1/multiagent/stream is long-lived
	// by design (§4.6). The other routes only read or write the domain
	// store and have no time bound applied here either.

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/multiagent/stream", s.handleMultiAgentStream)

		r.Post("/objectives", s.handleCreateObjective)
		r.Get("/objectives/{id}", s.handleGetObjective)
		r.Get("/objectives/{id}/tasks", s.handleListTasks)
		r.Post("/objectives/{id}/cancel", s.handleCancelObjective)

		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/tasks/{id}/steps", s.handleListSteps)

		r.Get("/steps/{id}", s.handleGetStep)
		r.Get("/steps/{id}/results", s.handleGetStepResult)

		r.Get("/workflows/{id}/state", s.handleWorkflowState)
		r.Post("/workflows/{id}/pause", s.handleWorkflowPause)
		r.Post("/workflows/{id}/resume", s.handleWorkflowResume)
		r.Get("/workflows/{id}/checkpoints", s.handleListCheckpoints)
		r.Post("/workflows/checkpoints/{id}/restore", s.handleRestoreCheckpoint)

		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Get("/scheduler/resources", s.handleSchedulerResources)
		r.Post("/scheduler/steps/schedule", s.handleScheduleSteps)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
