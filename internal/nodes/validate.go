package nodes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// TypeValidate — тип узла проверки данных.
const TypeValidate = "transform/validate"

// errUnknownRule — правило не поддерживается validator.
var errUnknownRule = errors.New("unknown validation rule")

// ValidateNode — узел проверки данных по правилам.
//
// Правила записываются через "|", параметр отделяется двоеточием.
// Кроме required все правила применяются только к непустым значениям.
//
// Конфигурация:
//
//	{
//	    "input": "{{form}}",
//	    "rules": {
//	        "email": "required|email",
//	        "name": "required|min:3"
//	    }
//	}
//
// Outputs:
//
//	{"valid": false, "errors": ["name must be at least 3 characters"]}
type ValidateNode struct{}

// NewValidateNode создаёт ValidateNode.
func NewValidateNode() *ValidateNode {
	return &ValidateNode{}
}

// Type возвращает тип узла.
func (n *ValidateNode) Type() string { return TypeValidate }

type validateConfig struct {
	Rules map[string]string `mapstructure:"rules"`
}

// ValidateConfig проверяет синтаксис правил при валидации определения.
func (n *ValidateNode) ValidateConfig(node *domain.NodeSpec) error {
	var cfg validateConfig
	if err := decodeConfig(TypeValidate, node.Config, &cfg); err != nil {
		return err
	}
	for field, ruleStr := range cfg.Rules {
		for _, rule := range splitRules(ruleStr) {
			if rule.tag == "required" {
				continue
			}
			if _, err := checkRule("", rule); errors.Is(err, errUnknownRule) {
				return fmt.Errorf("%w: %s: %s: %v", ErrInvalidConfig, TypeValidate, field, err)
			}
		}
	}
	return nil
}

// Execute проверяет данные.
func (n *ValidateNode) Execute(_ context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	var cfg validateConfig
	if err := decodeConfig(TypeValidate, node.Config, &cfg); err != nil {
		return nil, err
	}

	var input any = data
	if raw, ok := node.Config["input"]; ok {
		input = resolveRef(raw, data)
	}
	record, _ := input.(map[string]any)

	fields := make([]string, 0, len(cfg.Rules))
	for field := range cfg.Rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	errs := make([]any, 0)
	for _, field := range fields {
		value := record[field]
		for _, rule := range splitRules(cfg.Rules[field]) {
			if rule.tag == "required" {
				if !engine.Truthy(value) {
					errs = append(errs, field+" is required")
				}
				continue
			}
			if !engine.Truthy(value) {
				continue
			}

			msg, err := checkRule(value, rule)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", TypeValidate, field, err)
			}
			if msg != "" {
				errs = append(errs, field+" "+msg)
			}
		}
	}

	return map[string]any{
		"valid":  len(errs) == 0,
		"errors": errs,
	}, nil
}

// rule — одно правило проверки.
type rule struct {
	tag   string
	param string
}

// String возвращает правило в синтаксисе validator ("min=3").
func (r rule) String() string {
	if r.param == "" {
		return r.tag
	}
	return r.tag + "=" + r.param
}

// splitRules разбирает строку "required|min:3|email".
func splitRules(s string) []rule {
	parts := strings.Split(s, "|")
	rules := make([]rule, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tag, param, _ := strings.Cut(p, ":")
		rules = append(rules, rule{tag: strings.TrimSpace(tag), param: strings.TrimSpace(param)})
	}
	return rules
}

// checkRule проверяет значение одним правилом validator.
// Значение приводится к строке, поэтому min/max задают длину.
// Возвращает текст нарушения или пустую строку.
func checkRule(value any, r rule) (msg string, err error) {
	defer func() {
		// validator паникует на неизвестных тегах
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s", errUnknownRule, r.tag)
		}
	}()

	verr := getValidator().Var(engine.FormatValue(value), r.String())
	if verr == nil {
		return "", nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(verr, &fieldErrs) && len(fieldErrs) > 0 {
		return formatValidationError(fieldErrs[0]), nil
	}
	return "", verr
}
