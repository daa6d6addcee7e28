package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowgraph/internal/domain"
)

const retryWarning = "node attempt failed, retrying"

func newTestEngine(t *testing.T, def *domain.WorkflowDefinition, reg Registry, opts ...Option) *Engine {
	t.Helper()
	e, err := New(def, reg, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_RejectsInvalidDefinition(t *testing.T) {
	calls := 0
	reg := testRegistry{"test/count": ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		calls++
		return nil, nil
	})}

	def := &domain.WorkflowDefinition{
		Nodes:       []domain.NodeSpec{{ID: "a", Type: "test/count"}, {ID: "b", Type: "nope"}},
		Connections: []domain.ConnectionSpec{{From: "a", To: "b"}},
	}

	e, err := New(def, reg)
	require.Error(t, err)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, ErrUnknownNodeType)
	assert.Equal(t, 0, calls)
}

// A → B безусловно; B → C при {{B.flag}} == True; B → D при {{B.flag}} == False.
func TestExecuteWorkflow_ConditionalBranches(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Name: "conditional",
		Nodes: []domain.NodeSpec{
			{ID: "A", Type: "trigger/manual"},
			{ID: "B", Type: "test/flag"},
			{ID: "C", Type: "test/noop"},
			{ID: "D", Type: "test/noop"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "A", To: "B"},
			{From: "B", To: "C", Condition: "{{B.flag}} == True"},
			{From: "B", To: "D", Condition: "{{B.flag}} == False"},
		},
	}

	res := newTestEngine(t, def, baseRegistry()).ExecuteWorkflow(context.Background(), nil)

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Context, "A")
	assert.Contains(t, res.Context, "B")
	assert.Contains(t, res.Context, "C")
	assert.NotContains(t, res.Context, "D")
	assert.Equal(t, map[string]any{"flag": true}, res.Context["B"])
	assert.Equal(t, 3, res.Summary.TotalUpdates)
	assert.Equal(t, 0, res.Summary.TotalErrors)
}

func TestExecuteWorkflow_ConditionSeesOwnResultKeys(t *testing.T) {
	reg := baseRegistry()
	reg["test/status"] = returning(map[string]any{"status": "ok", "count": 2})

	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "s", Type: "test/status"},
			{ID: "yes", Type: "test/noop"},
			{ID: "no", Type: "test/noop"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "s", To: "yes", Condition: `status == "ok" && count > 1`},
			{From: "s", To: "no", Condition: `"{{status}}" != "ok"`},
		},
	}

	res := newTestEngine(t, def, reg).ExecuteWorkflow(context.Background(), nil)

	require.True(t, res.Success)
	assert.Contains(t, res.Context, "yes")
	assert.NotContains(t, res.Context, "no")
}

// Условие видит только результат своего узла: ни выход A, ни начальные
// данные в scope условия B → * не попадают.
func TestExecuteWorkflow_ConditionIgnoresRestOfContext(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "A", Type: "trigger/manual"},
			{ID: "B", Type: "test/flag"},
			{ID: "from-upstream", Type: "test/noop"},
			{ID: "from-initial", Type: "test/noop"},
			{ID: "own", Type: "test/noop"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "A", To: "B"},
			{From: "B", To: "from-upstream", Condition: "{{A.triggered}} == True"},
			{From: "B", To: "from-initial", Condition: "secret == 1"},
			{From: "B", To: "own", Condition: "flag && B.flag"},
		},
	}

	res := newTestEngine(t, def, baseRegistry()).ExecuteWorkflow(context.Background(), map[string]any{"secret": 1})

	require.True(t, res.Success)
	assert.Contains(t, res.Context, "own")
	assert.NotContains(t, res.Context, "from-upstream")
	assert.NotContains(t, res.Context, "from-initial")
}

func TestConditionScope(t *testing.T) {
	result := map[string]any{"flag": true}
	scope := conditionScope("B", result)

	assert.Equal(t, map[string]any{"flag": true, "B": result}, scope)
	assert.Len(t, result, 1)
}

func TestExecuteWorkflow_BrokenConditionIsFalse(t *testing.T) {
	logger, logs := newCaptureLogger()

	def := chain("trigger/manual", "test/noop")
	def.Connections[0].Condition = "{{n1.unknown}} == True"

	res := newTestEngine(t, def, baseRegistry(), WithLogger(logger)).
		ExecuteWorkflow(context.Background(), nil)

	assert.True(t, res.Success)
	assert.NotContains(t, res.Context, "n2")
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, logs.count(slog.LevelWarn, "condition evaluation failed"))
}

func TestExecuteWorkflow_StopPolicy(t *testing.T) {
	exec, calls := failing()
	reg := baseRegistry()
	reg["test/fail"] = exec
	sleeper := &noSleep{}

	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "A", Type: "trigger/manual"},
			{ID: "E", Type: "test/fail", ErrorHandling: domain.ErrorHandlingStop},
			{ID: "after", Type: "test/noop"},
			{ID: "sibling", Type: "test/noop"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "A", To: "E"},
			{From: "E", To: "after"},
			{From: "A", To: "sibling"},
		},
	}

	e := newTestEngine(t, def, reg,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: 0}),
		WithSleeper(sleeper.sleep),
	)
	res := e.ExecuteWorkflow(context.Background(), nil)

	assert.False(t, res.Success)
	assert.Equal(t, 3, *calls)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "E", res.Errors[0].NodeID)
	assert.Contains(t, res.Errors[0].Trace, "attempt 3: boom")
	assert.NotEmpty(t, res.Error)

	// Запуск прерван: ни потомки E, ни следующая ветка A не выполняются
	assert.NotContains(t, res.Context, "E")
	assert.NotContains(t, res.Context, "after")
	assert.NotContains(t, res.Context, "sibling")
}

func TestExecuteWorkflow_DefaultPolicyIsStop(t *testing.T) {
	exec, _ := failing()
	reg := baseRegistry()
	reg["test/fail"] = exec

	def := chain("trigger/manual", "test/fail", "test/noop")
	res := newTestEngine(t, def, reg,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 1}),
	).ExecuteWorkflow(context.Background(), nil)

	assert.False(t, res.Success)
	assert.NotContains(t, res.Context, "n3")
}

func TestExecuteWorkflow_ContinuePolicy(t *testing.T) {
	exec, calls := failing()
	reg := baseRegistry()
	reg["test/fail"] = exec

	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "A", Type: "trigger/manual"},
			{ID: "E", Type: "test/fail", ErrorHandling: domain.ErrorHandlingContinue},
			{ID: "child", Type: "test/noop"},
			{ID: "grandchild", Type: "test/noop"},
			{ID: "sibling", Type: "test/noop"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "A", To: "E"},
			{From: "E", To: "child"},
			{From: "child", To: "grandchild"},
			{From: "A", To: "sibling"},
		},
	}

	sleeper := &noSleep{}
	res := newTestEngine(t, def, reg,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: 0}),
		WithSleeper(sleeper.sleep),
	).ExecuteWorkflow(context.Background(), nil)

	assert.True(t, res.Success)
	assert.True(t, res.Partial())
	assert.Equal(t, 2, *calls)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "E", res.Errors[0].NodeID)

	assert.NotContains(t, res.Context, "E")
	assert.NotContains(t, res.Context, "child")
	assert.NotContains(t, res.Context, "grandchild")
	assert.Contains(t, res.Context, "sibling")
}

func TestExecuteWorkflow_RetryContract(t *testing.T) {
	for n := 1; n <= 3; n++ {
		exec, calls := flaky(n-1, map[string]any{"ok": true})
		reg := baseRegistry()
		reg["test/flaky"] = exec

		logger, logs := newCaptureLogger()
		sleeper := &noSleep{}
		base := 100 * time.Millisecond

		def := chain("test/flaky")
		res := newTestEngine(t, def, reg,
			WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: base}),
			WithSleeper(sleeper.sleep),
			WithLogger(logger),
		).ExecuteWorkflow(context.Background(), nil)

		require.True(t, res.Success, "n=%d", n)
		assert.Equal(t, n, *calls)
		assert.Equal(t, 1, res.Summary.TotalUpdates, "one context write")
		assert.Equal(t, n-1, logs.count(slog.LevelWarn, retryWarning))

		// base * (1 + 2 + ... + (n-1))
		expected := base * time.Duration(n*(n-1)/2)
		assert.Equal(t, expected, sleeper.total(), "n=%d", n)

		require.Len(t, res.Nodes, 1)
		assert.Equal(t, n, res.Nodes[0].Attempt)
		assert.Equal(t, domain.NodeStatusSucceeded, res.Nodes[0].Status)
	}
}

func TestExecuteWorkflow_NodeRetryOverride(t *testing.T) {
	exec, calls := failing()
	reg := baseRegistry()
	reg["test/fail"] = exec
	sleeper := &noSleep{}

	def := chain("test/fail")
	def.Nodes[0].Retry = &domain.RetryPolicy{MaxAttempts: 5, BaseDelayMs: 10}

	res := newTestEngine(t, def, reg, WithSleeper(sleeper.sleep)).
		ExecuteWorkflow(context.Background(), nil)

	assert.False(t, res.Success)
	assert.Equal(t, 5, *calls)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
	}, sleeper.delays)
}

func TestExecuteWorkflow_IdenticalInputsEachAttempt(t *testing.T) {
	var seen []map[string]any
	attempts := 0
	reg := baseRegistry()
	reg["test/inspect"] = ExecutorFunc(func(_ context.Context, _ *domain.NodeSpec, data map[string]any) (map[string]any, error) {
		attempts++
		snap := make(map[string]any, len(data))
		for k, v := range data {
			snap[k] = v
		}
		seen = append(seen, snap)
		if attempts < 3 {
			return nil, errors.New("retry me")
		}
		return map[string]any{}, nil
	})

	def := chain("trigger/manual", "test/inspect")
	res := newTestEngine(t, def, reg, WithSleeper((&noSleep{}).sleep)).
		ExecuteWorkflow(context.Background(), map[string]any{"input": 1})

	require.True(t, res.Success)
	require.Len(t, seen, 3)
	assert.Equal(t, seen[0], seen[1])
	assert.Equal(t, seen[1], seen[2])
	assert.Equal(t, 1, seen[0]["input"])
	assert.Contains(t, seen[0], "n1")
}

func TestExecuteWorkflow_DepthFirstOrder(t *testing.T) {
	var order []string
	reg := testRegistry{"test/echo": echoID(&order)}

	//      root
	//     /    \
	//    a      b
	//   / \     |
	//  a1  a2   b1
	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "root", Type: "test/echo"},
			{ID: "a", Type: "test/echo"},
			{ID: "b", Type: "test/echo"},
			{ID: "a1", Type: "test/echo"},
			{ID: "a2", Type: "test/echo"},
			{ID: "b1", Type: "test/echo"},
			{ID: "second_root", Type: "test/echo"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "root", To: "a"},
			{From: "root", To: "b"},
			{From: "a", To: "a1"},
			{From: "a", To: "a2"},
			{From: "b", To: "b1"},
		},
	}

	res := newTestEngine(t, def, reg).ExecuteWorkflow(context.Background(), nil)

	require.True(t, res.Success)
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b", "b1", "second_root"}, order)
}

func TestExecuteWorkflow_DiamondReexecutesSharedNode(t *testing.T) {
	var order []string
	reg := testRegistry{"test/noop": echoID(&order)}

	res := newTestEngine(t, diamond(), reg).ExecuteWorkflow(context.Background(), nil)

	require.True(t, res.Success)
	assert.Equal(t, []string{"a", "b", "d", "c", "d"}, order)
	assert.Len(t, res.Nodes, 5)
	assert.Equal(t, 5, res.Summary.TotalUpdates)
}

func TestExecuteWorkflow_InitialContext(t *testing.T) {
	reg := baseRegistry()
	reg["test/read"] = ExecutorFunc(func(_ context.Context, _ *domain.NodeSpec, data map[string]any) (map[string]any, error) {
		return map[string]any{"echo": data["user"]}, nil
	})

	def := chain("test/read")
	res := newTestEngine(t, def, reg).
		ExecuteWorkflow(context.Background(), map[string]any{"user": "ann"})

	require.True(t, res.Success)
	assert.Equal(t, "ann", res.Context["user"])
	assert.Equal(t, map[string]any{"echo": "ann"}, res.Context["n1"])
	require.Len(t, res.History, 2)
	assert.Equal(t, map[string]any{"user": "ann"}, res.History[0].Data)
}

func TestExecuteWorkflow_DataMapping(t *testing.T) {
	reg := baseRegistry()
	reg["test/http"] = returning(map[string]any{
		"status": 200,
		"body":   map[string]any{"id": "u1"},
	})

	def := chain("test/http", "test/noop")
	def.Nodes[0].DataMapping = map[string]any{
		"user_id": "{{body.id}}",
		"fixed":   true,
	}
	def.Connections[0].Condition = `user_id == "u1"`

	res := newTestEngine(t, def, reg).ExecuteWorkflow(context.Background(), nil)

	require.True(t, res.Success)
	out := res.Context["n1"].(map[string]any)
	assert.Equal(t, "u1", out["user_id"])
	assert.Equal(t, true, out["fixed"])
	assert.Equal(t, 200, out["status"])
	assert.Contains(t, res.Context, "n2")
}

func TestExecuteWorkflow_NoStartNodes(t *testing.T) {
	calls := 0
	reg := testRegistry{"test/count": ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		calls++
		return nil, nil
	})}

	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{{ID: "a", Type: "test/count"}, {ID: "b", Type: "test/count"}},
		Connections: []domain.ConnectionSpec{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	res := newTestEngine(t, def, reg).ExecuteWorkflow(context.Background(), map[string]any{"seed": 1})

	assert.False(t, res.Success)
	assert.Equal(t, 0, calls)
	assert.Empty(t, res.Context)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, EnginePseudoNode, res.Errors[0].NodeID)
	assert.Contains(t, res.Errors[0].Message, ErrNoStartNode.Error())
}

func TestExecuteWorkflow_MaxSteps(t *testing.T) {
	var order []string
	reg := testRegistry{"test/echo": echoID(&order)}

	def := &domain.WorkflowDefinition{
		Nodes: []domain.NodeSpec{
			{ID: "start", Type: "test/echo"},
			{ID: "x", Type: "test/echo"},
			{ID: "y", Type: "test/echo"},
		},
		Connections: []domain.ConnectionSpec{
			{From: "start", To: "x"},
			{From: "x", To: "y"},
			{From: "y", To: "x"},
		},
	}

	res := newTestEngine(t, def, reg, WithMaxSteps(10)).ExecuteWorkflow(context.Background(), nil)

	assert.False(t, res.Success)
	assert.Len(t, order, 10)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, EnginePseudoNode, res.Errors[0].NodeID)
	assert.Contains(t, res.Error, ErrMaxStepsExceeded.Error())
}

func TestExecuteWorkflow_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := testRegistry{
		"test/cancel": ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
			cancel()
			return map[string]any{}, nil
		}),
		"test/noop": returning(nil),
	}

	def := chain("test/cancel", "test/noop")
	res := newTestEngine(t, def, reg).ExecuteWorkflow(ctx, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Context, "n1")
	assert.NotContains(t, res.Context, "n2")
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestExecuteWorkflow_PanicIsAttemptFailure(t *testing.T) {
	reg := baseRegistry()
	reg["test/panic"] = ExecutorFunc(func(context.Context, *domain.NodeSpec, map[string]any) (map[string]any, error) {
		panic("kaboom")
	})

	def := chain("test/panic")
	def.Nodes[0].ErrorHandling = domain.ErrorHandlingContinue

	res := newTestEngine(t, def, reg, WithRetryPolicy(RetryPolicy{MaxAttempts: 1})).
		ExecuteWorkflow(context.Background(), nil)

	assert.True(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "executor panic: kaboom")
}

func TestExecute_IsAlias(t *testing.T) {
	e := newTestEngine(t, chain("trigger/manual"), baseRegistry())

	a := e.Execute(context.Background(), nil)
	b := e.ExecuteWorkflow(context.Background(), nil)

	assert.Equal(t, a.Success, b.Success)
	assert.Equal(t, a.Context, b.Context)
}

func TestEngine_IndependentRuns(t *testing.T) {
	e := newTestEngine(t, chain("trigger/manual", "test/noop"), baseRegistry())

	first := e.ExecuteWorkflow(context.Background(), map[string]any{"run": 1})
	second := e.ExecuteWorkflow(context.Background(), nil)

	assert.Contains(t, first.Context, "run")
	assert.NotContains(t, second.Context, "run")
	assert.Equal(t, 2, second.Summary.TotalUpdates)
}

// recorder — Observer для проверки последовательности событий.
type recorder struct {
	events []string
	result *Result
}

func (r *recorder) NodeStarted(_ context.Context, run *domain.NodeRun) {
	r.events = append(r.events, "start:"+run.NodeID)
}

func (r *recorder) NodeRetrying(_ context.Context, run *domain.NodeRun, _ error) {
	r.events = append(r.events, "retry:"+run.NodeID)
}

func (r *recorder) NodeFinished(_ context.Context, run *domain.NodeRun) {
	r.events = append(r.events, "finish:"+run.NodeID+":"+string(run.Status))
}

func (r *recorder) RunFinished(_ context.Context, res *Result) {
	r.result = res
}

func TestExecuteWorkflow_Observer(t *testing.T) {
	exec, _ := flaky(1, map[string]any{})
	reg := baseRegistry()
	reg["test/flaky"] = exec

	rec := &recorder{}
	def := chain("trigger/manual", "test/flaky")
	res := newTestEngine(t, def, reg,
		WithObserver(rec, nil),
		WithSleeper((&noSleep{}).sleep),
	).ExecuteWorkflow(context.Background(), nil)

	assert.Equal(t, []string{
		"start:n1",
		"finish:n1:SUCCEEDED",
		"start:n2",
		"retry:n2",
		"finish:n2:SUCCEEDED",
	}, rec.events)
	assert.Same(t, res, rec.result)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(4))
}
