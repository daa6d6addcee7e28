package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/repo"
	"github.com/shaiso/flowgraph/internal/runner"
	"github.com/shaiso/flowgraph/internal/visual"
)

// CreateRun запускает workflow.
// POST /api/v1/runs[?async=true]
//
// Синхронно: выполняет workflow и возвращает 201 с записью и результатом.
// Асинхронно: проверяет определение, ставит в очередь и возвращает 202.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Workflow == nil {
		BadRequest(w, "workflow is required")
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.submitRun(w, r, &req)
		return
	}

	run, res, err := h.service.Run(r.Context(), req.Workflow, req.Inputs)
	if err != nil {
		if errors.Is(err, runner.ErrInvalidWorkflow) {
			InvalidWorkflow(w, IssuesFromError(err))
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, RunResultResponse{Run: RunFromDomain(*run), Result: res})
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request, req *CreateRunRequest) {
	if h.submitter == nil {
		Unavailable(w, "async execution is not configured")
		return
	}

	if err := h.service.Validate(req.Workflow); err != nil {
		InvalidWorkflow(w, IssuesFromError(err))
		return
	}

	id, err := h.submitter.Submit(r.Context(), req.Workflow, req.Inputs)
	if err != nil {
		h.logger.Error("failed to submit run", "workflow", req.Workflow.Name, "error", err)
		Unavailable(w, "failed to queue run")
		return
	}

	Accepted(w, RunAcceptedResponse{RunID: id, Status: string(domain.RunStatusPending)})
}

// ListRuns возвращает список запусков с фильтрацией.
// GET /api/v1/runs?workflow=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repo.RunFilter{Workflow: query.Get("workflow")}

	if s := query.Get("status"); s != "" {
		status, ok := domain.ParseRunStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	var ok bool
	if filter.Limit, ok = parseIntParam(query.Get("limit"), 0); !ok {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, ok = parseIntParam(query.Get("offset"), 0); !ok {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.service.Store().List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает запуск по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	Success(w, RunFromDomain(*run))
}

// ListRunNodes возвращает выполнения узлов запуска в порядке обхода.
// GET /api/v1/runs/{id}/nodes
func (h *Handler) ListRunNodes(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	nodeRuns, err := h.service.Store().ListNodeRuns(r.Context(), run.ID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]NodeRunResponse, len(nodeRuns))
	for i, nr := range nodeRuns {
		result[i] = NodeRunFromDomain(nr)
	}

	List(w, result, len(result))
}

// GetRunGraph возвращает диаграмму определения запуска с отметками выполненных узлов.
// GET /api/v1/runs/{id}/graph
func (h *Handler) GetRunGraph(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.Definition == nil {
		NotFound(w, "run has no stored definition")
		return
	}

	nodeRuns, err := h.service.Store().ListNodeRuns(r.Context(), run.ID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, GraphResponse{
		Workflow: run.Workflow,
		Mermaid:  visual.Mermaid(run.Definition, visual.OverlayFromNodeRuns(nodeRuns)),
	})
}

// loadRun читает запуск по {id}. При ошибке ответ уже отправлен.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*domain.Run, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return nil, false
	}

	run, err := h.service.Store().GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return nil, false
	}
	return run, true
}

// parseIntParam парсит неотрицательный query-параметр; пустая строка даёт def.
func parseIntParam(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
