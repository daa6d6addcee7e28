package engine

import (
	"time"
)

// HistoryEntry — запись об одном обновлении контекста.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// ErrorEntry — запись об ошибке узла или запуска.
type ErrorEntry struct {
	NodeID    string    `json:"node_id"`
	Message   string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Trace     string    `json:"trace,omitempty"`
}

// Summary — сводка по запуску.
type Summary struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	TotalUpdates int       `json:"total_updates"`
	TotalErrors  int       `json:"total_errors"`
}

// RunContext — изменяемое состояние одного запуска.
//
// Хранит данные (ключ верхнего уровня — ID узла или ключ начальных данных),
// историю обновлений и список ошибок. Принадлежит одному запуску
// и не предназначен для конкурентного доступа.
type RunContext struct {
	data      map[string]any
	history   []HistoryEntry
	errors    []ErrorEntry
	startedAt time.Time
	now       func() time.Time
}

// NewRunContext создаёт пустой контекст запуска.
func NewRunContext() *RunContext {
	return newRunContext(time.Now)
}

func newRunContext(now func() time.Time) *RunContext {
	return &RunContext{
		data:      make(map[string]any),
		history:   make([]HistoryEntry, 0),
		errors:    make([]ErrorEntry, 0),
		startedAt: now(),
		now:       now,
	}
}

// Update сливает patch в данные и добавляет запись в историю.
// Пустой patch ничего не меняет.
func (c *RunContext) Update(patch map[string]any) {
	if len(patch) == 0 {
		return
	}

	recorded := make(map[string]any, len(patch))
	for k, v := range patch {
		c.data[k] = v
		recorded[k] = v
	}

	c.history = append(c.history, HistoryEntry{
		Timestamp: c.now(),
		Data:      recorded,
	})
}

// Get возвращает значение по ключу верхнего уровня.
func (c *RunContext) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Set записывает значение без записи в историю.
func (c *RunContext) Set(key string, value any) {
	c.data[key] = value
}

// Data возвращает живую map данных контекста.
// Executor'ы получают именно её и видят результаты всех предыдущих узлов.
func (c *RunContext) Data() map[string]any {
	return c.data
}

// Snapshot возвращает поверхностную копию данных.
func (c *RunContext) Snapshot() map[string]any {
	snap := make(map[string]any, len(c.data))
	for k, v := range c.data {
		snap[k] = v
	}
	return snap
}

// AddError записывает ошибку узла.
func (c *RunContext) AddError(nodeID string, err error) {
	c.errors = append(c.errors, ErrorEntry{
		NodeID:    nodeID,
		Message:   err.Error(),
		Timestamp: c.now(),
		Trace:     errorTrace(err),
	})
}

// History возвращает историю обновлений.
func (c *RunContext) History() []HistoryEntry {
	return c.history
}

// Errors возвращает записанные ошибки.
func (c *RunContext) Errors() []ErrorEntry {
	return c.errors
}

// Summary возвращает сводку по запуску на текущий момент.
func (c *RunContext) Summary() Summary {
	return Summary{
		StartTime:    c.startedAt,
		EndTime:      c.now(),
		TotalUpdates: len(c.history),
		TotalErrors:  len(c.errors),
	}
}
