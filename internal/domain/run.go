package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запись о запуске workflow.
//
// Run создаётся когда:
// - Пользователь запускает workflow через API/CLI
// - Scheduler запускает workflow по расписанию
// - Worker получает запрос на запуск из очереди
//
// Запись служит журналом: прерванный запуск не возобновляется.
type Run struct {
	// ID — уникальный идентификатор запуска.
	ID uuid.UUID `json:"id"`

	// Workflow — имя выполняемого workflow.
	Workflow string `json:"workflow"`

	// Definition — определение, с которым выполнялся запуск.
	Definition *WorkflowDefinition `json:"definition,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Inputs — начальные данные контекста.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Context — итоговые данные контекста после завершения.
	Context map[string]any `json:"context,omitempty"`

	// TotalUpdates — количество записей в истории контекста.
	TotalUpdates int `json:"total_updates"`

	// TotalErrors — количество записанных ошибок.
	TotalErrors int `json:"total_errors"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если запуск завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт запись запуска в статусе PENDING.
func NewRun(def *WorkflowDefinition, inputs map[string]any) *Run {
	name := ""
	if def != nil {
		name = def.Name
	}
	return &Run{
		ID:         uuid.New(),
		Workflow:   name,
		Definition: def,
		Status:     RunStatusPending,
		Inputs:     inputs,
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если запуск ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если запуск завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит запуск в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит запуск в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит запуск в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}
