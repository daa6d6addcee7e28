package domain

// WorkflowDefinition — описание workflow: узлы и связи между ними.
//
// Определение неизменяемо во время выполнения и может
// использоваться любым количеством запусков.
type WorkflowDefinition struct {
	// Name — имя workflow (для логов и истории запусков).
	Name string `json:"name,omitempty"`

	// Description — описание назначения workflow.
	Description string `json:"description,omitempty"`

	// Nodes — узлы в порядке объявления.
	// Порядок важен: стартовые узлы выполняются в этом порядке.
	Nodes []NodeSpec `json:"nodes"`

	// Connections — направленные связи между узлами в порядке объявления.
	Connections []ConnectionSpec `json:"connections,omitempty"`
}

// Document — обёртка файла определения: {"workflow": {...}}.
type Document struct {
	Workflow *WorkflowDefinition `json:"workflow"`
}

// ErrorHandling — политика обработки ошибки узла.
type ErrorHandling string

const (
	// ErrorHandlingStop — ошибка узла прерывает весь запуск (по умолчанию).
	ErrorHandlingStop ErrorHandling = "stop"

	// ErrorHandlingContinue — ошибка обрывает только ветку этого узла.
	ErrorHandlingContinue ErrorHandling = "continue"
)

// IsValid проверяет, что значение политики допустимо.
// Пустое значение допустимо и означает stop.
func (e ErrorHandling) IsValid() bool {
	switch e {
	case "", ErrorHandlingStop, ErrorHandlingContinue:
		return true
	default:
		return false
	}
}

// NodeSpec — определение узла workflow.
type NodeSpec struct {
	// ID — уникальный идентификатор узла.
	// Под этим ключом результат узла записывается в контекст запуска.
	ID string `json:"id"`

	// Name — человекочитаемое имя узла.
	Name string `json:"name,omitempty"`

	// Type — тип узла, ключ в реестре executor'ов ("action/http", "logic/if", ...).
	Type string `json:"type"`

	// Config — конфигурация узла (зависит от типа).
	// Строковые значения могут содержать шаблоны {{ path }}.
	Config map[string]any `json:"config,omitempty"`

	// DataMapping — дополнительные ключи результата.
	// Строковые значения — шаблоны относительно результата этого же узла.
	DataMapping map[string]any `json:"dataMapping,omitempty"`

	// ErrorHandling — политика при окончательной ошибке узла.
	ErrorHandling ErrorHandling `json:"errorHandling,omitempty"`

	// Retry — политика повторов узла. Переопределяет настройки движка.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// Policy возвращает эффективную политику обработки ошибок.
func (n *NodeSpec) Policy() ErrorHandling {
	if n.ErrorHandling == "" {
		return ErrorHandlingStop
	}
	return n.ErrorHandling
}

// DisplayName возвращает имя узла или его ID, если имя не задано.
func (n *NodeSpec) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// ConnectionSpec — направленная связь между узлами.
type ConnectionSpec struct {
	// From — ID узла-источника.
	From string `json:"from"`

	// To — ID узла-получателя.
	To string `json:"to"`

	// Condition — условие перехода. Пустое условие всегда истинно.
	// Вычисляется по результату узла From.
	Condition string `json:"condition,omitempty"`
}

// IsConditional возвращает true, если у связи есть условие.
func (c *ConnectionSpec) IsConditional() bool {
	return c.Condition != ""
}

// RetryPolicy — политика повторных попыток узла.
//
// Задержка перед попыткой k (k >= 2) линейная: BaseDelay * (k-1).
type RetryPolicy struct {
	// MaxAttempts — общее количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// BaseDelayMs — базовая задержка в миллисекундах.
	BaseDelayMs int `json:"base_delay_ms,omitempty"`
}

// Node возвращает узел по ID или nil.
func (w *WorkflowDefinition) Node(id string) *NodeSpec {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}
