package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe — шаблон подстановки {{ path }}.
var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ResolveTemplate подставляет значения из scope вместо {{ path }}.
//
// path — путь через точку ("fetch.body.items.0.id"), каждый сегмент
// ищется как ключ map или индекс slice. Если путь не найден,
// плейсхолдер остаётся в строке без изменений.
//
//	ResolveTemplate("Hello {{ user.name }}", {"user": {"name": "Ann"}}) → "Hello Ann"
//	ResolveTemplate("{{ missing.key }}", {}) → "{{ missing.key }}"
func ResolveTemplate(tmpl string, scope map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value, ok := LookupPath(scope, path)
		if !ok {
			return token
		}
		return FormatValue(value)
	})
}

// LookupPath ищет значение по пути через точку.
func LookupPath(scope map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = scope
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// FormatValue приводит значение к строке для подстановки в шаблон.
//
// Скаляры форматируются через fmt, nil — как "nil",
// map и slice — как JSON (его понимает и вычислитель выражений).
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case string:
		return v
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// ResolveValue рекурсивно подставляет шаблоны в строках внутри value.
// Рекурсивно обрабатывает map и slice; остальные типы возвращаются как есть.
func ResolveValue(value any, scope map[string]any) any {
	switch v := value.(type) {
	case string:
		return ResolveTemplate(v, scope)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = ResolveValue(val, scope)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = ResolveValue(val, scope)
		}
		return result

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			result[key] = ResolveTemplate(val, scope)
		}
		return result

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			result[i] = ResolveTemplate(val, scope)
		}
		return result

	default:
		return value
	}
}

// ResolveConfig подставляет шаблоны во всю конфигурацию узла.
func ResolveConfig(config map[string]any, scope map[string]any) map[string]any {
	if config == nil {
		return make(map[string]any)
	}
	return ResolveValue(config, scope).(map[string]any)
}

// ApplyDataMapping дополняет результат узла ключами из mapping.
//
// Строковые значения mapping — шаблоны относительно самого результата,
// остальные значения копируются как есть. Ключи mapping перекрывают
// одноимённые ключи результата. Исходный result не изменяется.
func ApplyDataMapping(mapping map[string]any, result map[string]any) map[string]any {
	merged := make(map[string]any, len(result)+len(mapping))
	for k, v := range result {
		merged[k] = v
	}
	for k, v := range mapping {
		if s, ok := v.(string); ok {
			merged[k] = ResolveTemplate(s, result)
			continue
		}
		merged[k] = v
	}
	return merged
}
