package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
)

// Значения по умолчанию.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxSteps    = 10000
)

// RetryPolicy — политика повторов узла.
type RetryPolicy struct {
	// MaxAttempts — общее количество попыток, включая первую.
	MaxAttempts int

	// BaseDelay — базовая задержка линейного backoff.
	BaseDelay time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки, 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay возвращает задержку перед попыткой attempt (начиная с 1).
// Перед первой попыткой задержки нет, перед k-й — BaseDelay * (k-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt-1)
}

// merge применяет переопределения из определения узла.
func (p RetryPolicy) merge(override *domain.RetryPolicy) RetryPolicy {
	if override != nil {
		if override.MaxAttempts > 0 {
			p.MaxAttempts = override.MaxAttempts
		}
		if override.BaseDelayMs > 0 {
			p.BaseDelay = time.Duration(override.BaseDelayMs) * time.Millisecond
		}
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Result — итог запуска workflow.
type Result struct {
	// Workflow — имя workflow.
	Workflow string `json:"workflow,omitempty"`

	// Success — false, если запуск прерван.
	// Ветки, отброшенные политикой continue, не делают запуск неуспешным.
	Success bool `json:"success"`

	// Error — текст ошибки, прервавшей запуск.
	Error string `json:"error,omitempty"`

	// Context — итоговые данные контекста.
	Context map[string]any `json:"context"`

	// Summary — сводка по запуску.
	Summary Summary `json:"summary"`

	// Errors — ошибки всех упавших узлов.
	Errors []ErrorEntry `json:"errors"`

	// History — история обновлений контекста.
	History []HistoryEntry `json:"history,omitempty"`

	// Nodes — выполнения узлов в порядке обхода.
	Nodes []*domain.NodeRun `json:"nodes,omitempty"`
}

// Partial возвращает true, если запуск успешен, но часть веток отброшена.
func (r *Result) Partial() bool {
	return r.Success && len(r.Errors) > 0
}

// Duration возвращает продолжительность запуска.
func (r *Result) Duration() time.Duration {
	return r.Summary.EndTime.Sub(r.Summary.StartTime)
}

// SleepFunc ожидает d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine — исполнитель одного определения workflow.
//
// Engine не хранит состояние запусков: каждый вызов ExecuteWorkflow
// создаёт свой RunContext, поэтому один Engine можно использовать
// для любого количества последовательных или параллельных запусков.
type Engine struct {
	def       *domain.WorkflowDefinition
	graph     *Graph
	registry  Registry
	retry     RetryPolicy
	maxSteps  int
	sleep     SleepFunc
	now       func() time.Time
	logger    *slog.Logger
	observers observers
}

// Option — опция конфигурации Engine.
type Option func(*Engine)

// WithRetryPolicy задаёт политику повторов по умолчанию.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver добавляет наблюдателей.
func WithObserver(obs ...Observer) Option {
	return func(e *Engine) {
		for _, o := range obs {
			if o != nil {
				e.observers = append(e.observers, o)
			}
		}
	}
}

// WithSleeper подменяет ожидание backoff (для тестов).
func WithSleeper(sleep SleepFunc) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithMaxSteps ограничивает количество выполнений узлов в одном запуске.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New валидирует определение и создаёт Engine.
//
// Невалидное определение отклоняется до любых побочных эффектов
// с ошибкой ValidationErrors.
func New(def *domain.WorkflowDefinition, registry Registry, opts ...Option) (*Engine, error) {
	if err := Validate(def, registry); err != nil {
		return nil, err
	}

	e := &Engine{
		def:      def,
		graph:    BuildGraph(def),
		registry: registry,
		retry:    DefaultRetryPolicy(),
		maxSteps: DefaultMaxSteps,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.graph.HasCycle() {
		e.logger.Warn("workflow graph contains a cycle",
			"workflow", def.Name,
			"max_steps", e.maxSteps,
		)
	}

	return e, nil
}

// Definition возвращает определение workflow.
func (e *Engine) Definition() *domain.WorkflowDefinition {
	return e.def
}

// Graph возвращает индекс графа.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// runState — состояние одного запуска.
type runState struct {
	rc     *RunContext
	nodes  []*domain.NodeRun
	steps  int
	logger *slog.Logger
}

// ExecuteWorkflow выполняет workflow и возвращает результат.
//
// Метод никогда не возвращает ошибку: любая ошибка записывается в
// Result.Errors, а прерванный запуск отмечается Success = false.
func (e *Engine) ExecuteWorkflow(ctx context.Context, initial map[string]any) *Result {
	st := &runState{
		rc:     newRunContext(e.now),
		nodes:  make([]*domain.NodeRun, 0, e.graph.Size()),
		logger: e.logger.With("workflow", e.def.Name),
	}

	st.logger.Info("workflow started", "nodes", e.graph.Size())

	err := e.run(ctx, st, initial)

	res := &Result{
		Workflow: e.def.Name,
		Success:  err == nil,
		Context:  st.rc.Data(),
		Nodes:    st.nodes,
	}

	if err != nil {
		// Ошибка узла уже записана под его ID
		var nodeErr *NodeExecutionError
		if !errors.As(err, &nodeErr) {
			st.rc.AddError(EnginePseudoNode, err)
		}
		res.Error = err.Error()
		st.logger.Error("workflow failed", "node_id", EnginePseudoNode, "error", err)
	}

	res.Summary = st.rc.Summary()
	res.Errors = st.rc.Errors()
	res.History = st.rc.History()

	st.logger.Info("workflow finished",
		"success", res.Success,
		"total_updates", res.Summary.TotalUpdates,
		"total_errors", res.Summary.TotalErrors,
		"duration", res.Duration(),
	)

	e.observers.runFinished(ctx, res)
	return res
}

// Execute — синоним ExecuteWorkflow.
func (e *Engine) Execute(ctx context.Context, initial map[string]any) *Result {
	return e.ExecuteWorkflow(ctx, initial)
}

// run обходит граф в глубину с явным стеком.
//
// Преемники узла кладутся в стек в обратном порядке объявления связей,
// поэтому ветка первой связи (со всеми потомками) завершается
// раньше, чем начинается следующая.
func (e *Engine) run(ctx context.Context, st *runState, initial map[string]any) error {
	starts, err := e.graph.StartNodes()
	if err != nil {
		return &WorkflowError{Err: err}
	}

	st.rc.Update(initial)

	stack := make([]*domain.NodeSpec, 0, len(starts))
	for i := len(starts) - 1; i >= 0; i-- {
		stack = append(stack, starts[i])
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return &WorkflowError{Err: err}
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if st.steps >= e.maxSteps {
			return &WorkflowError{
				NodeID: node.ID,
				Err:    fmt.Errorf("%w: limit %d", ErrMaxStepsExceeded, e.maxSteps),
			}
		}
		st.steps++

		next, err := e.executeNode(ctx, st, node)
		if err != nil {
			if node.Policy() == domain.ErrorHandlingContinue {
				st.logger.Warn("branch pruned after node failure",
					"node_id", node.ID,
					"error", err,
				)
				continue
			}
			return &WorkflowError{NodeID: node.ID, Err: err}
		}

		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}

	return nil
}

// executeNode выполняет узел, записывает результат и возвращает
// преемников, чьи условия выполнены.
func (e *Engine) executeNode(ctx context.Context, st *runState, node *domain.NodeSpec) ([]*domain.NodeSpec, error) {
	run := domain.NewNodeRun(len(st.nodes)+1, node)
	st.nodes = append(st.nodes, run)

	logger := st.logger.With("node_id", node.ID, "node_type", node.Type)
	logger.Info("executing node", "name", node.DisplayName())
	logger.Debug("node input", "context", st.rc.Snapshot())

	result, err := e.executeWithRetry(ctx, st, node, run, logger)
	if err != nil {
		run.MarkFailed(e.now(), err.Error())
		st.rc.AddError(node.ID, err)
		logger.Error("node failed",
			"attempts", run.Attempt,
			"error_handling", node.Policy(),
			"error", err,
		)
		e.observers.nodeFinished(ctx, run)
		return nil, err
	}

	if len(node.DataMapping) > 0 {
		result = ApplyDataMapping(node.DataMapping, result)
	}

	logger.Debug("node output", "output", result)
	st.rc.Update(map[string]any{node.ID: result})

	run.MarkSucceeded(e.now(), result)
	e.observers.nodeFinished(ctx, run)

	return e.nextNodes(node, result, logger), nil
}

// executeWithRetry вызывает executor узла с повторами.
//
// Каждая попытка получает одни и те же входные данные; перед попыткой k
// выполняется задержка BaseDelay * (k-1).
func (e *Engine) executeWithRetry(
	ctx context.Context,
	st *runState,
	node *domain.NodeSpec,
	run *domain.NodeRun,
	logger *slog.Logger,
) (map[string]any, error) {
	policy := e.retry.merge(node.Retry)

	executor, err := e.registry.Get(node.Type)
	if err != nil {
		return nil, &NodeExecutionError{
			NodeID:   node.ID,
			NodeType: node.Type,
			Errors:   []error{fmt.Errorf("%w: %v", ErrExecutorNotFound, err)},
		}
	}

	errs := make([]error, 0, policy.MaxAttempts)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, policy.Delay(attempt)); err != nil {
				errs = append(errs, err)
				break
			}
		}

		run.MarkRunning(e.now())
		if attempt == 1 {
			e.observers.nodeStarted(ctx, run)
		}

		result, err := safeExecute(ctx, executor, node, st.rc.Data())
		if err == nil {
			if result == nil {
				result = make(map[string]any)
			}
			return result, nil
		}
		errs = append(errs, err)

		if attempt < policy.MaxAttempts {
			logger.Warn("node attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"delay", policy.Delay(attempt+1),
				"error", err,
			)
			run.MarkRetrying(err.Error())
			e.observers.nodeRetrying(ctx, run, err)
		}
	}

	return nil, &NodeExecutionError{
		NodeID:   node.ID,
		NodeType: node.Type,
		Attempts: run.Attempt,
		Errors:   errs,
	}
}

// nextNodes возвращает преемников узла в порядке объявления связей.
//
// Условие связи видит только результат самого узла: и {{flag}}, и {{B.flag}}
// ссылаются на результат узла B. Остальной контекст условию недоступен.
func (e *Engine) nextNodes(node *domain.NodeSpec, result map[string]any, logger *slog.Logger) []*domain.NodeSpec {
	conns := e.graph.Outgoing(node.ID)
	if len(conns) == 0 {
		return nil
	}

	scope := conditionScope(node.ID, result)

	next := make([]*domain.NodeSpec, 0, len(conns))
	for _, conn := range conns {
		target := e.graph.Node(conn.To)
		if target == nil {
			continue
		}
		if conn.IsConditional() && !EvaluateCondition(conn.Condition, scope, logger) {
			logger.Debug("connection skipped", "to", conn.To, "condition", conn.Condition)
			continue
		}
		next = append(next, target)
	}
	return next
}

// conditionScope собирает scope условий связей узла nodeID.
func conditionScope(nodeID string, result map[string]any) map[string]any {
	scope := make(map[string]any, len(result)+1)
	for k, v := range result {
		scope[k] = v
	}
	scope[nodeID] = result
	return scope
}

// safeExecute вызывает executor, превращая panic в ошибку попытки.
func safeExecute(ctx context.Context, executor Executor, node *domain.NodeSpec, data map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return executor.Execute(ctx, node, data)
}

// sleepContext ждёт d с учётом отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
