package engine

import (
	"context"

	"github.com/shaiso/flowgraph/internal/domain"
)

// Executor — исполнитель одного типа узла.
//
// data — живые данные контекста запуска: результаты всех ранее
// выполненных узлов доступны по их ID. Executor не должен изменять data;
// результат возвращается отдельной map и записывается движком.
type Executor interface {
	Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error)
}

// ExecutorFunc — адаптер функции к интерфейсу Executor.
type ExecutorFunc func(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error)

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	return f(ctx, node, data)
}

// Registry — источник executor'ов по типу узла.
type Registry interface {
	// Get возвращает executor для типа узла.
	Get(nodeType string) (Executor, error)

	// Has проверяет, зарегистрирован ли тип.
	Has(nodeType string) bool
}

// ConfigValidator — необязательная проверка конфигурации узла.
//
// Executor, реализующий интерфейс, проверяет Config узла
// на этапе валидации определения, до запуска.
type ConfigValidator interface {
	ValidateConfig(node *domain.NodeSpec) error
}
