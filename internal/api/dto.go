package api

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// Run DTOs

// CreateRunRequest — запрос на запуск workflow.
type CreateRunRequest struct {
	Workflow *domain.WorkflowDefinition `json:"workflow"`
	Inputs   map[string]any             `json:"inputs,omitempty"`
}

// RunResponse — запись запуска.
type RunResponse struct {
	ID           uuid.UUID                  `json:"id"`
	Workflow     string                     `json:"workflow"`
	Status       domain.RunStatus           `json:"status"`
	Definition   *domain.WorkflowDefinition `json:"definition,omitempty"`
	Inputs       map[string]any             `json:"inputs,omitempty"`
	Context      map[string]any             `json:"context,omitempty"`
	TotalUpdates int                        `json:"total_updates"`
	TotalErrors  int                        `json:"total_errors"`
	Error        string                     `json:"error,omitempty"`
	StartedAt    *time.Time                 `json:"started_at,omitempty"`
	FinishedAt   *time.Time                 `json:"finished_at,omitempty"`
	DurationMs   int64                      `json:"duration_ms,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		Workflow:     r.Workflow,
		Status:       r.Status,
		Definition:   r.Definition,
		Inputs:       r.Inputs,
		Context:      r.Context,
		TotalUpdates: r.TotalUpdates,
		TotalErrors:  r.TotalErrors,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.Duration().Milliseconds(),
		CreatedAt:    r.CreatedAt,
	}
}

// RunResultResponse — ответ синхронного запуска.
type RunResultResponse struct {
	Run    RunResponse    `json:"run"`
	Result *engine.Result `json:"result"`
}

// RunAcceptedResponse — ответ асинхронного запуска.
type RunAcceptedResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// NodeRunResponse — выполнение узла.
type NodeRunResponse struct {
	Seq        int               `json:"seq"`
	NodeID     string            `json:"node_id"`
	Name       string            `json:"name,omitempty"`
	Type       string            `json:"type"`
	Attempt    int               `json:"attempt"`
	Status     domain.NodeStatus `json:"status"`
	Outputs    map[string]any    `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// NodeRunFromDomain конвертирует domain.NodeRun в NodeRunResponse.
func NodeRunFromDomain(n domain.NodeRun) NodeRunResponse {
	return NodeRunResponse{
		Seq:        n.Seq,
		NodeID:     n.NodeID,
		Name:       n.Name,
		Type:       n.Type,
		Attempt:    n.Attempt,
		Status:     n.Status,
		Outputs:    n.Outputs,
		Error:      n.Error,
		StartedAt:  n.StartedAt,
		FinishedAt: n.FinishedAt,
		DurationMs: n.Duration().Milliseconds(),
	}
}

// Workflow DTOs

// ValidationIssue — одно нарушение в определении.
type ValidationIssue struct {
	NodeID     string `json:"node_id,omitempty"`
	Connection *int   `json:"connection,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

// IssuesFromError раскладывает ошибку валидации на нарушения.
func IssuesFromError(err error) []ValidationIssue {
	var verrs engine.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationIssue{{Message: err.Error()}}
	}

	issues := make([]ValidationIssue, len(verrs))
	for i, v := range verrs {
		issue := ValidationIssue{
			NodeID:  v.NodeID,
			Field:   v.Field,
			Message: v.Message,
		}
		if v.Connection >= 0 {
			idx := v.Connection
			issue.Connection = &idx
		}
		issues[i] = issue
	}
	return issues
}

// ValidateResponse — результат проверки определения.
type ValidateResponse struct {
	Valid      bool              `json:"valid"`
	Workflow   string            `json:"workflow,omitempty"`
	StartNodes []string          `json:"start_nodes,omitempty"`
	HasCycle   bool              `json:"has_cycle"`
	Issues     []ValidationIssue `json:"issues,omitempty"`
}

// GraphResponse — диаграмма определения.
type GraphResponse struct {
	Workflow string `json:"workflow,omitempty"`
	Mermaid  string `json:"mermaid"`
}

// CheckDefinition проверяет определение функцией validate и собирает отчёт.
func CheckDefinition(def *domain.WorkflowDefinition, validate func(*domain.WorkflowDefinition) error) ValidateResponse {
	resp := ValidateResponse{
		Workflow: def.Name,
		HasCycle: engine.BuildGraph(def).HasCycle(),
	}

	if err := validate(def); err != nil {
		resp.Issues = IssuesFromError(err)
		return resp
	}

	starts, err := engine.FindStartNodes(def)
	if err != nil {
		resp.Issues = []ValidationIssue{{Field: "connections", Message: err.Error()}}
		return resp
	}

	resp.Valid = true
	resp.StartNodes = starts
	return resp
}
