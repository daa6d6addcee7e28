package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/visual"
)

// ValidateWorkflow проверяет определение без выполнения.
// POST /api/v1/workflows/validate
//
// Тело — документ workflow в JSON или YAML. Ответ 200 и для невалидного
// определения: нарушения перечислены в issues.
func (h *Handler) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := readDefinition(w, r)
	if !ok {
		return
	}

	Success(w, CheckDefinition(def, h.service.Validate))
}

// WorkflowGraph возвращает Mermaid-диаграмму определения.
// POST /api/v1/workflows/graph
func (h *Handler) WorkflowGraph(w http.ResponseWriter, r *http.Request) {
	def, ok := readDefinition(w, r)
	if !ok {
		return
	}

	Success(w, GraphResponse{
		Workflow: def.Name,
		Mermaid:  visual.Mermaid(def, nil),
	})
}

// Health сообщает о состоянии сервиса.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"active_runs": h.service.Active(),
	}

	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			JSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}

	JSON(w, http.StatusOK, body)
}

// readDefinition читает документ workflow из тела запроса.
// При ошибке ответ уже отправлен.
func readDefinition(w http.ResponseWriter, r *http.Request) (*domain.WorkflowDefinition, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return nil, false
		}
		BadRequest(w, "failed to read request body")
		return nil, false
	}

	def, err := engine.Parse(data)
	if err != nil {
		BadRequest(w, err.Error())
		return nil, false
	}
	return def, true
}
