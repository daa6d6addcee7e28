package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestResolveTemplate(t *testing.T) {
	scope := map[string]any{
		"user": map[string]any{
			"name": "Ann",
			"age":  30,
		},
		"fetch": map[string]any{
			"body": map[string]any{
				"items": []any{
					map[string]any{"id": "x1"},
					map[string]any{"id": "x2"},
				},
			},
			"ok": true,
		},
		"empty": nil,
		"ratio": 0.5,
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "simple path",
			template: "Hello, {{ user.name }}!",
			expected: "Hello, Ann!",
		},
		{
			name:     "no spaces",
			template: "{{user.age}}",
			expected: "30",
		},
		{
			name:     "slice index",
			template: "{{ fetch.body.items.1.id }}",
			expected: "x2",
		},
		{
			name:     "bool renders lowercase",
			template: "{{ fetch.ok }}",
			expected: "true",
		},
		{
			name:     "float",
			template: "{{ ratio }}",
			expected: "0.5",
		},
		{
			name:     "nil value",
			template: "{{ empty }}",
			expected: "nil",
		},
		{
			name:     "map renders as json",
			template: "{{ user }}",
			expected: `{"age":30,"name":"Ann"}`,
		},
		{
			name:     "missing key keeps token",
			template: "id={{ user.email }}",
			expected: "id={{ user.email }}",
		},
		{
			name:     "non-indexable intermediate keeps token",
			template: "{{ user.name.first }}",
			expected: "{{ user.name.first }}",
		},
		{
			name:     "index out of range keeps token",
			template: "{{ fetch.body.items.5.id }}",
			expected: "{{ fetch.body.items.5.id }}",
		},
		{
			name:     "several tokens",
			template: "{{user.name}} is {{user.age}}, {{missing}}",
			expected: "Ann is 30, {{missing}}",
		},
		{
			name:     "plain text",
			template: "Plain text",
			expected: "Plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveTemplate(tt.template, scope))
		})
	}
}

// Строка без плейсхолдеров возвращается без изменений при любом scope.
func TestResolveTemplate_IdempotentWithoutPlaceholders(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tmpl := rapid.String().Filter(func(s string) bool {
			return !strings.Contains(s, "{{")
		}).Draw(t, "template")

		keys := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,5}`)).Draw(t, "keys")
		scope := make(map[string]any, len(keys))
		for _, k := range keys {
			scope[k] = rapid.OneOf(
				rapid.Just[any]("value"),
				rapid.Just[any](42),
				rapid.Just[any](map[string]any{"inner": true}),
			).Draw(t, "value")
		}

		if got := ResolveTemplate(tmpl, scope); got != tmpl {
			t.Fatalf("template changed: %q -> %q", tmpl, got)
		}
	})
}

func TestResolveValue(t *testing.T) {
	scope := map[string]any{"base": "http://api", "id": 7}

	config := map[string]any{
		"url":     "{{base}}/items/{{id}}",
		"headers": map[string]any{"X-Id": "{{id}}"},
		"tags":    []any{"{{id}}", 3},
		"plain":   []string{"{{base}}"},
		"timeout": 5,
	}

	got := ResolveConfig(config, scope)

	assert.Equal(t, "http://api/items/7", got["url"])
	assert.Equal(t, map[string]any{"X-Id": "7"}, got["headers"])
	assert.Equal(t, []any{"7", 3}, got["tags"])
	assert.Equal(t, []string{"http://api"}, got["plain"])
	assert.Equal(t, 5, got["timeout"])

	// Исходная конфигурация не изменяется
	assert.Equal(t, "{{base}}/items/{{id}}", config["url"])
}

func TestResolveConfig_Nil(t *testing.T) {
	assert.Equal(t, map[string]any{}, ResolveConfig(nil, nil))
}

func TestApplyDataMapping(t *testing.T) {
	result := map[string]any{
		"status": 200,
		"body":   map[string]any{"user": map[string]any{"id": "u1"}},
	}
	mapping := map[string]any{
		"user_id": "{{ body.user.id }}",
		"code":    "HTTP {{status}}",
		"static":  42,
		"missing": "{{ body.nope }}",
		"status":  "overridden",
	}

	got := ApplyDataMapping(mapping, result)

	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "HTTP 200", got["code"])
	assert.Equal(t, 42, got["static"])
	assert.Equal(t, "{{ body.nope }}", got["missing"])
	assert.Equal(t, "overridden", got["status"])
	assert.Equal(t, result["body"], got["body"])

	// Исходный результат не изменяется
	assert.Equal(t, 200, result["status"])
}
