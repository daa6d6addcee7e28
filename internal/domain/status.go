package domain

// RunStatus — статус запуска workflow.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
type RunStatus string

const (
	// RunStatusPending — запуск создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — запуск в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — запуск успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — запуск завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (запуск завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// NodeStatus — статус выполнения узла внутри запуска.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	             ↕     ↘ FAILED
//	          RETRYING
type NodeStatus string

const (
	// NodeStatusPending — узел выбран для выполнения.
	NodeStatusPending NodeStatus = "PENDING"

	// NodeStatusRunning — executor узла выполняется.
	NodeStatusRunning NodeStatus = "RUNNING"

	// NodeStatusRetrying — попытка неудачна, ожидается следующая.
	NodeStatusRetrying NodeStatus = "RETRYING"

	// NodeStatusSucceeded — узел выполнен, результат записан в контекст.
	NodeStatusSucceeded NodeStatus = "SUCCEEDED"

	// NodeStatusFailed — все попытки исчерпаны.
	NodeStatusFailed NodeStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed:
		return true
	default:
		return false
	}
}

// ParseRunStatus парсит строку в RunStatus.
// Неизвестное значение возвращается как есть, ok = false.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return RunStatus(s), true
	default:
		return RunStatus(s), false
	}
}
