package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapNode_Execute(t *testing.T) {
	data := map[string]any{
		"user":  map[string]any{"first": "Ann", "last": "Lee"},
		"fetch": map[string]any{"items": []any{1, 2}, "count": 2},
	}

	out, err := NewMapNode().Execute(context.Background(), node("m", TypeMap, map[string]any{
		"mappings": map[string]any{
			"full_name": "{{user.first}} {{user.last}}",
			"items":     "{{fetch.items}}",
			"missing":   "{{nope}}",
		},
	}), data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"full_name": "Ann Lee",
		"items":     "[1,2]",
		"missing":   "{{nope}}",
	}, out)

	out, err = NewMapNode().Execute(context.Background(), node("m", TypeMap, map[string]any{
		"mappings":   map[string]any{"items": "{{fetch.items}}", "count": "{{fetch.count}}", "name": "{{user.first}}"},
		"parse_json": true,
	}), data)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, out["items"])
	assert.Equal(t, int64(2), out["count"])
	assert.Equal(t, "Ann", out["name"])
}

func TestMapNode_NoMappings(t *testing.T) {
	out, err := NewMapNode().Execute(context.Background(), node("m", TypeMap, nil), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{`{"a":1}`, map[string]any{"a": float64(1)}},
		{`[1,"x"]`, []any{float64(1), "x"}},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"true", true},
		{"false", false},
		{"hello", "hello"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.input))
		})
	}
}

func TestFilterNode_List(t *testing.T) {
	data := map[string]any{
		"orders": []any{
			map[string]any{"id": 1, "total": 50},
			map[string]any{"id": 2, "total": 150},
			map[string]any{"id": 3, "total": 300},
		},
		"threshold": 100,
	}

	out, err := NewFilterNode().Execute(context.Background(), node("f", TypeFilter, map[string]any{
		"input":     "{{orders}}",
		"condition": "item.total > threshold",
	}), data)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"id": 2, "total": 150},
		map[string]any{"id": 3, "total": 300},
	}, out["filtered_data"])
}

func TestFilterNode_Single(t *testing.T) {
	data := map[string]any{"user": map[string]any{"age": 20}}

	out, err := NewFilterNode().Execute(context.Background(), node("f", TypeFilter, map[string]any{
		"input":     "{{user}}",
		"condition": "{{user.age}} >= 18",
	}), data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": 20}, out["filtered_data"])

	out, err = NewFilterNode().Execute(context.Background(), node("f", TypeFilter, map[string]any{
		"input":     "{{user}}",
		"condition": "{{user.age}} >= 21",
	}), data)
	require.NoError(t, err)
	assert.Contains(t, out, "filtered_data")
	assert.Nil(t, out["filtered_data"])
}

func TestFilterNode_BrokenCondition(t *testing.T) {
	out, err := NewFilterNode().Execute(context.Background(), node("f", TypeFilter, map[string]any{
		"input":     []any{1, 2},
		"condition": "undefined_name > 1",
	}), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out["error"], "filter condition failed")
	assert.NotContains(t, out, "filtered_data")
}

func TestValidateNode_Execute(t *testing.T) {
	tests := []struct {
		name      string
		input     map[string]any
		rules     map[string]any
		wantValid bool
		wantErrs  []any
	}{
		{
			name:      "all valid",
			input:     map[string]any{"email": "ann@example.com", "name": "Ann"},
			rules:     map[string]any{"email": "required|email", "name": "required|min:3"},
			wantValid: true,
			wantErrs:  []any{},
		},
		{
			name:  "violations",
			input: map[string]any{"email": "not-an-email", "name": "Al"},
			rules: map[string]any{"age": "required", "email": "required|email", "name": "required|min:3"},
			wantErrs: []any{
				"age is required",
				"email must be a valid email address",
				"name must be at least 3 characters",
			},
		},
		{
			name:      "optional empty value skips other rules",
			input:     map[string]any{"nickname": ""},
			rules:     map[string]any{"nickname": "min:3|email"},
			wantValid: true,
			wantErrs:  []any{},
		},
		{
			name:     "max length",
			input:    map[string]any{"code": "ABCDEFG"},
			rules:    map[string]any{"code": "max:5"},
			wantErrs: []any{"code must be at most 5 characters"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewValidateNode().Execute(context.Background(), node("v", TypeValidate, map[string]any{
				"input": "{{form}}",
				"rules": tt.rules,
			}), map[string]any{"form": tt.input})
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, out["valid"])
			assert.Equal(t, tt.wantErrs, out["errors"])
		})
	}
}

func TestValidateNode_DefaultInputIsContext(t *testing.T) {
	out, err := NewValidateNode().Execute(context.Background(), node("v", TypeValidate, map[string]any{
		"rules": map[string]any{"token": "required"},
	}), map[string]any{"token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, true, out["valid"])
}

func TestValidateNode_UnknownRule(t *testing.T) {
	n := NewValidateNode()
	cfg := map[string]any{"rules": map[string]any{"name": "required|sparkly"}}

	assert.ErrorIs(t, n.ValidateConfig(node("v", TypeValidate, cfg)), ErrInvalidConfig)

	_, err := n.Execute(context.Background(), node("v", TypeValidate, cfg), map[string]any{"name": "x"})
	assert.ErrorIs(t, err, errUnknownRule)

	assert.NoError(t, n.ValidateConfig(node("v", TypeValidate, map[string]any{
		"rules": map[string]any{"email": "required|email|min:3"},
	})))
}
