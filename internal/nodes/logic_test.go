package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIfNode_Execute(t *testing.T) {
	data := map[string]any{"order": map[string]any{"total": 150, "status": "paid"}}

	tests := []struct {
		name      string
		condition string
		want      map[string]any
	}{
		{"true", "{{order.total}} > 100", map[string]any{"condition_result": true}},
		{"false", "{{order.total}} > 500", map[string]any{"condition_result": false}},
		{"member access", `order.status == "paid"`, map[string]any{"condition_result": true}},
		{"default", "", map[string]any{"condition_result": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewIfNode().Execute(context.Background(), node("check", TypeIf, map[string]any{"condition": tt.condition}), data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestIfNode_BrokenCondition(t *testing.T) {
	out, err := NewIfNode().Execute(context.Background(), node("check", TypeIf, map[string]any{
		"condition": "missing > 1",
	}), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out["error"], "condition failed")
}

func TestSwitchNode_Execute(t *testing.T) {
	cfg := map[string]any{
		"expression": "order.status",
		"cases":      map[string]any{"paid": "ship", "new": "wait"},
		"default":    "review",
	}

	tests := []struct {
		status string
		want   any
	}{
		{"paid", "ship"},
		{"new", "wait"},
		{"refunded", "review"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			out, err := NewSwitchNode().Execute(context.Background(), node("route", TypeSwitch, cfg),
				map[string]any{"order": map[string]any{"status": tt.status}})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"switch_result": tt.want}, out)
		})
	}
}

func TestSwitchNode_NumericCase(t *testing.T) {
	out, err := NewSwitchNode().Execute(context.Background(), node("route", TypeSwitch, map[string]any{
		"expression": "{{level}} + 1",
		"cases":      map[string]any{"2": "two"},
	}), map[string]any{"level": 1})
	require.NoError(t, err)
	assert.Equal(t, "two", out["switch_result"])
}

func TestSwitchNode_Errors(t *testing.T) {
	n := NewSwitchNode()

	assert.ErrorIs(t, n.ValidateConfig(node("s", TypeSwitch, map[string]any{})), ErrInvalidConfig)

	out, err := n.Execute(context.Background(), node("s", TypeSwitch, map[string]any{"expression": "nope"}), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out["error"], "switch failed")
}

func TestLoopNode_Execute(t *testing.T) {
	out, err := NewLoopNode().Execute(context.Background(), node("each", TypeLoop, map[string]any{
		"items":    "{{users}}",
		"loop_var": "user",
	}), map[string]any{"users": []any{"ann", "bob"}})
	require.NoError(t, err)

	assert.Equal(t, 2, out["total_items"])
	assert.Equal(t, []any{
		map[string]any{"item": "ann", "index": 0, "user": "ann"},
		map[string]any{"item": "bob", "index": 1, "user": "bob"},
	}, out["loop_results"])
}

func TestLoopNode_Literal(t *testing.T) {
	out, err := NewLoopNode().Execute(context.Background(), node("each", TypeLoop, map[string]any{
		"items": []any{1, 2, 3},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out["total_items"])

	out, err = NewLoopNode().Execute(context.Background(), node("each", TypeLoop, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out["total_items"])

	_, err = NewLoopNode().Execute(context.Background(), node("each", TypeLoop, map[string]any{"items": 5}), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMergeNode_Execute(t *testing.T) {
	data := map[string]any{
		"a":          map[string]any{"list": []any{1, 2}, "obj": map[string]any{"x": 1, "y": 1}},
		"b":          map[string]any{"list": []any{3}, "obj": map[string]any{"y": 2}},
		"merge_data": []any{[]any{"p"}, "q"},
	}

	tests := []struct {
		name   string
		config map[string]any
		want   any
	}{
		{
			name:   "append sources",
			config: map[string]any{"sources": []any{"a.list", "b.list"}},
			want:   []any{1, 2, 3},
		},
		{
			name:   "union sources",
			config: map[string]any{"strategy": "union", "sources": []any{"a.obj", "b.obj"}},
			want:   map[string]any{"x": 1, "y": 2},
		},
		{
			name:   "merge_data",
			config: map[string]any{},
			want:   []any{"p", "q"},
		},
		{
			name:   "unknown strategy keeps parts",
			config: map[string]any{"strategy": "custom", "sources": []any{"a.list", "missing"}},
			want:   []any{[]any{1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewMergeNode().Execute(context.Background(), node("m", TypeMerge, tt.config), data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["merged_result"])
		})
	}
}
