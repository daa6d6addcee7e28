package nodes

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/flowgraph/internal/engine"
)

// Registry — реестр типов узлов.
//
// Реализует engine.Registry. Создаётся приложением и передаётся
// движку явно; глобального реестра нет. Потокобезопасен.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]engine.Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]engine.Executor),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными типами узлов.
func DefaultRegistry(deps Dependencies) *Registry {
	deps = deps.withDefaults()
	r := NewRegistry()

	// Триггеры
	r.Register(NewManualTrigger(deps))
	r.Register(NewTimerTrigger(deps))
	r.Register(NewWebhookTrigger(deps))

	// Действия
	r.Register(NewHTTPNode(deps))
	r.Register(NewEmailNode(deps))
	r.Register(NewDBNode(deps))
	r.Register(NewAgentNode(deps))
	r.Register(NewDelayNode())

	// Преобразования
	r.Register(NewMapNode())
	r.Register(NewFilterNode())
	r.Register(NewValidateNode())

	// Логика
	r.Register(NewIfNode())
	r.Register(NewSwitchNode())
	r.Register(NewLoopNode())
	r.Register(NewMergeNode())

	return r
}

// Register регистрирует узел в реестре.
// Если узел с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(node Node) {
	r.RegisterExecutor(node.Type(), node)
}

// RegisterExecutor регистрирует произвольный executor под типом nodeType.
func (r *Registry) RegisterExecutor(nodeType string, executor engine.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = executor
}

// RegisterFunc регистрирует функцию как executor.
func (r *Registry) RegisterFunc(nodeType string, fn engine.ExecutorFunc) {
	r.RegisterExecutor(nodeType, fn)
}

// Get возвращает executor по типу.
// Возвращает ErrNodeTypeNotFound, если тип не найден.
func (r *Registry) Get(nodeType string) (engine.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, exists := r.executors[nodeType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeNotFound, nodeType)
	}

	return executor, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[nodeType]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных типов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Unregister удаляет тип из реестра.
func (r *Registry) Unregister(nodeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, nodeType)
}
