package nodes

import (
	"context"
	"fmt"
	"reflect"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// Типы логических узлов.
const (
	TypeIf     = "logic/if"
	TypeSwitch = "logic/switch"
	TypeLoop   = "logic/loop"
	TypeMerge  = "logic/merge"

	defaultLoopVar = "item"
	mergeDataKey   = "merge_data"
)

// Стратегии слияния logic/merge.
const (
	MergeAppend = "append"
	MergeUnion  = "union"
)

// IfNode вычисляет условие и возвращает его результат.
//
// Узел не выбирает ветку сам: переходы задаются условиями связей,
// например "{{check.condition_result}} == True".
//
// Конфигурация:
//
//	{"condition": "{{order.total}} > 100"}
type IfNode struct{}

// NewIfNode создаёт IfNode.
func NewIfNode() *IfNode { return &IfNode{} }

// Type возвращает тип узла.
func (n *IfNode) Type() string { return TypeIf }

// Execute вычисляет условие.
func (n *IfNode) Execute(_ context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	condition := GetConfigString(node.Config, "condition")
	if condition == "" {
		condition = "True"
	}

	ok, err := engine.Evaluate(condition, data)
	if err != nil {
		return errorOutput("condition failed", err), nil
	}
	return map[string]any{"condition_result": ok}, nil
}

// SwitchNode выбирает значение по результату выражения.
//
// Конфигурация:
//
//	{
//	    "expression": "order.status",
//	    "cases": {"paid": "ship", "new": "wait"},
//	    "default": "review"
//	}
//
// Ключ case сравнивается со строковым представлением результата.
type SwitchNode struct{}

// NewSwitchNode создаёт SwitchNode.
func NewSwitchNode() *SwitchNode { return &SwitchNode{} }

// Type возвращает тип узла.
func (n *SwitchNode) Type() string { return TypeSwitch }

type switchConfig struct {
	Expression string         `mapstructure:"expression" validate:"required"`
	Cases      map[string]any `mapstructure:"cases"`
	Default    any            `mapstructure:"default"`
}

// ValidateConfig проверяет конфигурацию при валидации определения.
func (n *SwitchNode) ValidateConfig(node *domain.NodeSpec) error {
	var cfg switchConfig
	return decodeConfig(TypeSwitch, node.Config, &cfg)
}

// Execute вычисляет выражение и выбирает case.
func (n *SwitchNode) Execute(_ context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	cfg := switchConfig{Default: ""}
	if err := decodeConfig(TypeSwitch, node.Config, &cfg); err != nil {
		return nil, err
	}

	value, err := engine.EvaluateValue(cfg.Expression, data)
	if err != nil {
		return errorOutput("switch failed", err), nil
	}

	if result, ok := cfg.Cases[engine.FormatValue(value)]; ok {
		return map[string]any{"switch_result": result}, nil
	}
	return map[string]any{"switch_result": cfg.Default}, nil
}

// LoopNode разворачивает список в последовательность элементов.
//
// Тело цикла не выполняется: результат содержит элементы с индексами
// для узлов ниже по графу.
//
// Конфигурация:
//
//	{"items": "{{fetch.body.items}}", "loop_var": "user"}
//
// Outputs:
//
//	{"loop_results": [{"item": ..., "index": 0, "user": ...}], "total_items": 1}
type LoopNode struct{}

// NewLoopNode создаёт LoopNode.
func NewLoopNode() *LoopNode { return &LoopNode{} }

// Type возвращает тип узла.
func (n *LoopNode) Type() string { return TypeLoop }

// Execute разворачивает items.
func (n *LoopNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	loopVar := GetConfigString(node.Config, "loop_var")
	if loopVar == "" {
		loopVar = defaultLoopVar
	}

	items, err := toList(resolveRef(node.Config["items"], data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: items: %v", ErrInvalidConfig, TypeLoop, err)
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeCancelled, err)
		}
		results = append(results, map[string]any{
			"item":  item,
			"index": i,
			loopVar: item,
		})
	}

	return map[string]any{
		"loop_results": results,
		"total_items":  len(results),
	}, nil
}

// toList приводит значение к []any. nil даёт пустой список.
func toList(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// MergeNode объединяет данные нескольких узлов.
//
// Конфигурация:
//
//	{
//	    "strategy": "append",                 // append | union
//	    "sources": ["users.body", "admins.body"]
//	}
//
// Без sources объединяется список из ключа контекста merge_data.
// append склеивает списки и добавляет одиночные значения,
// union сливает объекты (последний побеждает).
type MergeNode struct{}

// NewMergeNode создаёт MergeNode.
func NewMergeNode() *MergeNode { return &MergeNode{} }

// Type возвращает тип узла.
func (n *MergeNode) Type() string { return TypeMerge }

type mergeConfig struct {
	Strategy string   `mapstructure:"strategy"`
	Sources  []string `mapstructure:"sources"`
}

// Execute объединяет данные.
func (n *MergeNode) Execute(_ context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	cfg := mergeConfig{Strategy: MergeAppend}
	if err := decodeConfig(TypeMerge, node.Config, &cfg); err != nil {
		return nil, err
	}

	var parts []any
	if len(cfg.Sources) > 0 {
		for _, path := range cfg.Sources {
			if v, ok := engine.LookupPath(data, path); ok {
				parts = append(parts, v)
			}
		}
	} else {
		list, err := toList(data[mergeDataKey])
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", TypeMerge, mergeDataKey, err)
		}
		parts = list
	}

	return map[string]any{"merged_result": merge(cfg.Strategy, parts)}, nil
}

// merge применяет стратегию к частям. Неизвестная стратегия
// возвращает части без изменений.
func merge(strategy string, parts []any) any {
	switch strategy {
	case MergeAppend:
		result := make([]any, 0, len(parts))
		for _, p := range parts {
			if list, err := toList(p); err == nil && p != nil {
				result = append(result, list...)
			} else {
				result = append(result, p)
			}
		}
		return result

	case MergeUnion:
		result := make(map[string]any)
		for _, p := range parts {
			if m, ok := p.(map[string]any); ok {
				for k, v := range m {
					result[k] = v
				}
			}
		}
		return result

	default:
		if parts == nil {
			return []any{}
		}
		return parts
	}
}
