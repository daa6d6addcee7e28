package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeRun — одно выполнение узла внутри запуска.
//
// В diamond-графах общий узел выполняется по разу на каждый входящий путь,
// поэтому на один NodeID может приходиться несколько NodeRun.
type NodeRun struct {
	// RunID — ссылка на запуск. Заполняется при сохранении.
	RunID uuid.UUID `json:"run_id,omitempty"`

	// Seq — порядковый номер выполнения в запуске (начиная с 1).
	Seq int `json:"seq"`

	// NodeID — ID узла из определения.
	NodeID string `json:"node_id"`

	// Name — имя узла (копия NodeSpec.Name).
	Name string `json:"name,omitempty"`

	// Type — тип узла.
	Type string `json:"type"`

	// Attempt — номер последней попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Status — текущий статус.
	Status NodeStatus `json:"status"`

	// Outputs — результат узла после data mapping.
	Outputs map[string]any `json:"outputs,omitempty"`

	// StartedAt — время начала первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст последней ошибки.
	Error string `json:"error,omitempty"`
}

// NewNodeRun создаёт запись выполнения узла в статусе PENDING.
func NewNodeRun(seq int, node *NodeSpec) *NodeRun {
	return &NodeRun{
		Seq:    seq,
		NodeID: node.ID,
		Name:   node.Name,
		Type:   node.Type,
		Status: NodeStatusPending,
	}
}

// Duration возвращает продолжительность выполнения.
func (n *NodeRun) Duration() time.Duration {
	if n.StartedAt == nil || n.FinishedAt == nil {
		return 0
	}
	return n.FinishedAt.Sub(*n.StartedAt)
}

// MarkRunning переводит узел в статус RUNNING и увеличивает счётчик попыток.
func (n *NodeRun) MarkRunning(now time.Time) {
	if n.StartedAt == nil {
		n.StartedAt = &now
	}
	n.Status = NodeStatusRunning
	n.Attempt++
}

// MarkRetrying фиксирует неудачную попытку перед повтором.
func (n *NodeRun) MarkRetrying(err string) {
	n.Status = NodeStatusRetrying
	n.Error = err
}

// MarkSucceeded переводит узел в статус SUCCEEDED с результатом.
func (n *NodeRun) MarkSucceeded(now time.Time, outputs map[string]any) {
	n.Status = NodeStatusSucceeded
	n.FinishedAt = &now
	n.Outputs = outputs
	n.Error = ""
}

// MarkFailed переводит узел в статус FAILED.
func (n *NodeRun) MarkFailed(now time.Time, err string) {
	n.Status = NodeStatusFailed
	n.FinishedAt = &now
	n.Error = err
}
