package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// Типы узлов преобразования.
const (
	TypeMap    = "transform/map"
	TypeFilter = "transform/filter"

	// filterItemKey — имя текущего элемента в условии фильтра.
	filterItemKey = "item"
)

// MapNode — узел отображения данных.
//
// Рендерит шаблоны mappings по контексту запуска.
//
// Конфигурация:
//
//	{
//	    "mappings": {
//	        "full_name": "{{user.first}} {{user.last}}",
//	        "items": "{{fetch.body.items}}"
//	    },
//	    "parse_json": true
//	}
//
// При parse_json результаты, похожие на JSON (объекты, массивы, числа,
// true/false), разбираются в значения.
type MapNode struct{}

// NewMapNode создаёт MapNode.
func NewMapNode() *MapNode {
	return &MapNode{}
}

// Type возвращает тип узла.
func (n *MapNode) Type() string { return TypeMap }

// Execute рендерит mappings.
func (n *MapNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeCancelled, err)
	}

	mappings := parseMappings(node.Config["mappings"])
	parseJSON := GetConfigBool(node.Config, "parse_json", false)

	outputs := make(map[string]any, len(mappings))
	for key, tmpl := range mappings {
		rendered := engine.ResolveTemplate(tmpl, data)
		if parseJSON {
			outputs[key] = parseValue(rendered)
		} else {
			outputs[key] = rendered
		}
	}
	return outputs, nil
}

// parseMappings извлекает строковые mappings из конфигурации.
func parseMappings(raw any) map[string]string {
	switch m := raw.(type) {
	case map[string]string:
		return m

	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			if str, ok := val.(string); ok {
				result[key] = str
			}
		}
		return result

	default:
		return nil
	}
}

// parseValue пытается распарсить строку как JSON.
// Если не получается, возвращает строку как есть.
func parseValue(value string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		return obj
	}

	var arr []any
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		return arr
	}

	var num json.Number
	if err := json.Unmarshal([]byte(value), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}

	return value
}

// FilterNode — узел фильтрации.
//
// Для списка условие вычисляется для каждого элемента, доступного
// как item. Для одиночного значения условие вычисляется по контексту.
//
// Конфигурация:
//
//	{
//	    "input": "{{fetch.body.items}}",
//	    "condition": "item.price > 100"
//	}
//
// Ошибка вычисления условия не прерывает запуск: результатом
// становится {"error": "..."}.
type FilterNode struct{}

// NewFilterNode создаёт FilterNode.
func NewFilterNode() *FilterNode {
	return &FilterNode{}
}

// Type возвращает тип узла.
func (n *FilterNode) Type() string { return TypeFilter }

// Execute фильтрует входные данные.
func (n *FilterNode) Execute(_ context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	condition := GetConfigString(node.Config, "condition")
	if condition == "" {
		condition = "True"
	}

	var input any = data
	if raw, ok := node.Config["input"]; ok {
		input = resolveRef(raw, data)
	}

	items, isList := input.([]any)
	if !isList {
		ok, err := engine.Evaluate(condition, data)
		if err != nil {
			return errorOutput("filter condition failed", err), nil
		}
		if ok {
			return map[string]any{"filtered_data": input}, nil
		}
		return map[string]any{"filtered_data": nil}, nil
	}

	filtered := make([]any, 0, len(items))
	for _, item := range items {
		scope := make(map[string]any, len(data)+1)
		for k, v := range data {
			scope[k] = v
		}
		scope[filterItemKey] = item

		ok, err := engine.Evaluate(condition, scope)
		if err != nil {
			return errorOutput("filter condition failed", err), nil
		}
		if ok {
			filtered = append(filtered, item)
		}
	}
	return map[string]any{"filtered_data": filtered}, nil
}

// errorOutput — результат узла, завершившегося ошибкой вычисления.
func errorOutput(msg string, err error) map[string]any {
	return map[string]any{"error": fmt.Sprintf("%s: %v", msg, err)}
}
