package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации определения workflow.
var (
	// ErrNoNodes — workflow не содержит узлов.
	ErrNoNodes = errors.New("workflow has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeType — тип узла не зарегистрирован.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnknownNode — связь ссылается на несуществующий узел.
	ErrUnknownNode = errors.New("connection references unknown node")

	// ErrInvalidErrorHandling — недопустимое значение errorHandling.
	ErrInvalidErrorHandling = errors.New("invalid errorHandling")

	// ErrInvalidNodeConfig — конфигурация узла не прошла проверку типа.
	ErrInvalidNodeConfig = errors.New("invalid node config")
)

// Ошибки выполнения.
var (
	// ErrNoStartNode — у каждого узла есть входящая связь.
	ErrNoStartNode = errors.New("no start nodes found")

	// ErrExecutorNotFound — реестр не вернул executor для типа узла.
	ErrExecutorNotFound = errors.New("executor not found")

	// ErrMaxStepsExceeded — превышен лимит выполнений узлов в одном запуске.
	ErrMaxStepsExceeded = errors.New("max node executions exceeded")

	// ErrExpressionEval — выражение не удалось вычислить.
	ErrExpressionEval = errors.New("expression evaluation failed")

	// ErrParse — документ workflow не удалось разобрать.
	ErrParse = errors.New("workflow parse failed")

	errEmptyExpression = errors.New("empty expression")
)

// EnginePseudoNode — ID, под которым записываются ошибки уровня запуска.
const EnginePseudoNode = "workflow_engine"

// ValidationError — нарушение в определении workflow.
type ValidationError struct {
	NodeID     string // ID узла, где найдено нарушение
	Connection int    // индекс связи (-1, если нарушение не в связи)
	Field      string // поле, вызвавшее ошибку
	Message    string // описание ошибки
	Err        error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	switch {
	case e.Connection >= 0:
		return fmt.Sprintf("connection %d: %s", e.Connection, e.Message)
	case e.NodeID != "":
		return "node " + e.NodeID + ": " + e.Message
	default:
		return e.Message
	}
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт ошибку валидации узла.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:     nodeID,
		Connection: -1,
		Field:      field,
		Message:    message,
		Err:        err,
	}
}

// ValidationErrors — все нарушения, найденные в определении.
type ValidationErrors []*ValidationError

// Error реализует интерфейс error.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid workflow: " + strings.Join(msgs, "; ")
}

// Unwrap позволяет errors.Is/As находить отдельные нарушения.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// NodeExecutionError — узел не выполнен после всех попыток.
type NodeExecutionError struct {
	NodeID   string
	NodeType string
	Attempts int
	Errors   []error // ошибка каждой попытки по порядку
}

// Error реализует интерфейс error.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed after %d attempt(s): %v",
		e.NodeID, e.NodeType, e.Attempts, e.Unwrap())
}

// Unwrap возвращает ошибку последней попытки.
func (e *NodeExecutionError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// Trace возвращает ошибки всех попыток построчно.
func (e *NodeExecutionError) Trace() string {
	var b strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "attempt %d: %v", i+1, err)
	}
	return b.String()
}

// ExpressionError — ошибка вычисления условия или выражения.
type ExpressionError struct {
	Expr     string // исходное выражение
	Resolved string // выражение после подстановки шаблонов
	Err      error
}

// Error реализует интерфейс error.
func (e *ExpressionError) Error() string {
	return fmt.Sprintf("%v: %q: %v", ErrExpressionEval, e.Resolved, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с ErrExpressionEval.
func (e *ExpressionError) Is(target error) bool {
	return target == ErrExpressionEval
}

// WorkflowError — ошибка, прервавшая запуск целиком.
type WorkflowError struct {
	NodeID string // узел, на котором запуск прерван (пусто для ошибок уровня запуска)
	Err    error
}

// Error реализует интерфейс error.
func (e *WorkflowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("workflow aborted at node %s: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("workflow aborted: %v", e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// errorTrace возвращает трассировку ошибки для записи в контекст.
func errorTrace(err error) string {
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return nodeErr.Trace()
	}

	// Цепочка обёрнутых ошибок, от внешней к внутренней
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}
