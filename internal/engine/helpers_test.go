package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
)

// testRegistry — реестр executor'ов для тестов.
type testRegistry map[string]Executor

func (r testRegistry) Get(nodeType string) (Executor, error) {
	e, ok := r[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, nodeType)
	}
	return e, nil
}

func (r testRegistry) Has(nodeType string) bool {
	_, ok := r[nodeType]
	return ok
}

// returning возвращает executor с фиксированным результатом.
func returning(result map[string]any) Executor {
	return ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		return result, nil
	})
}

// failing возвращает executor, который всегда падает, и счётчик вызовов.
func failing() (Executor, *int) {
	calls := 0
	return ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		calls++
		return nil, errors.New("boom")
	}), &calls
}

// flaky падает на первых failures вызовах, затем возвращает result.
func flaky(failures int, result map[string]any) (Executor, *int) {
	calls := 0
	return ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		calls++
		if calls <= failures {
			return nil, fmt.Errorf("attempt %d failed", calls)
		}
		return result, nil
	}), &calls
}

// echoID возвращает {"id": <node id>} и записывает порядок вызовов.
func echoID(order *[]string) Executor {
	return ExecutorFunc(func(_ context.Context, node *domain.NodeSpec, _ map[string]any) (map[string]any, error) {
		*order = append(*order, node.ID)
		return map[string]any{"id": node.ID}, nil
	})
}

// baseRegistry — реестр с типами, используемыми в большинстве тестов.
func baseRegistry() testRegistry {
	return testRegistry{
		"trigger/manual": returning(map[string]any{"triggered": true}),
		"test/flag":      returning(map[string]any{"flag": true}),
		"test/noop":      returning(map[string]any{}),
	}
}

// noSleep — ожидание без задержки с записью запрошенных длительностей.
type noSleep struct {
	delays []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *noSleep) total() time.Duration {
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

// captureHandler — slog.Handler, сохраняющий записи.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// count возвращает количество записей уровня level с сообщением msg.
func (h *captureHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

// chain строит линейный workflow из узлов заданных типов: n1 → n2 → ...
func chain(types ...string) *domain.WorkflowDefinition {
	def := &domain.WorkflowDefinition{Name: "chain"}
	for i, typ := range types {
		id := fmt.Sprintf("n%d", i+1)
		def.Nodes = append(def.Nodes, domain.NodeSpec{ID: id, Type: typ})
		if i > 0 {
			def.Connections = append(def.Connections, domain.ConnectionSpec{
				From: fmt.Sprintf("n%d", i),
				To:   id,
			})
		}
	}
	return def
}
