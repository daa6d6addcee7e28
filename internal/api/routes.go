package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	base := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, base(h.metrics.Instrument(pattern)(fn)))
	}

	// Runs
	route("POST /api/v1/runs", h.CreateRun)
	route("GET /api/v1/runs", h.ListRuns)
	route("GET /api/v1/runs/{id}", h.GetRun)
	route("GET /api/v1/runs/{id}/nodes", h.ListRunNodes)
	route("GET /api/v1/runs/{id}/graph", h.GetRunGraph)

	// Workflows
	route("POST /api/v1/workflows/validate", h.ValidateWorkflow)
	route("POST /api/v1/workflows/graph", h.WorkflowGraph)

	// Service
	route("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// Routes возвращает http.Handler со всеми маршрутами.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}
