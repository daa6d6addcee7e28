package engine

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
)

// Литералы, доступные в выражениях помимо ключей scope.
const (
	literalTrue  = "True"
	literalFalse = "False"
)

// expressionEnv собирает окружение выражения: ключи верхнего уровня scope
// и литералы True/False. Функции и builtins выражениям недоступны.
func expressionEnv(scope map[string]any) map[string]any {
	env := make(map[string]any, len(scope)+2)
	for k, v := range scope {
		env[k] = v
	}
	env[literalTrue] = true
	env[literalFalse] = false
	return env
}

// EvaluateValue подставляет шаблоны и вычисляет выражение.
//
// Выражение видит только ключи верхнего уровня scope и литералы True/False;
// вызов функций запрещён. Неизвестный идентификатор — ошибка компиляции.
func EvaluateValue(expression string, scope map[string]any) (any, error) {
	resolved := strings.TrimSpace(ResolveTemplate(expression, scope))
	if resolved == "" {
		return nil, &ExpressionError{Expr: expression, Resolved: resolved, Err: errEmptyExpression}
	}

	env := expressionEnv(scope)
	program, err := expr.Compile(resolved, expr.Env(env), expr.DisableAllBuiltins())
	if err != nil {
		return nil, &ExpressionError{Expr: expression, Resolved: resolved, Err: err}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, &ExpressionError{Expr: expression, Resolved: resolved, Err: err}
	}
	return out, nil
}

// Evaluate вычисляет выражение как условие.
// Результат приводится к bool по правилам истинности (см. Truthy).
func Evaluate(expression string, scope map[string]any) (bool, error) {
	out, err := EvaluateValue(expression, scope)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// EvaluateCondition вычисляет условие связи.
//
// Любая ошибка вычисления не прерывает запуск: она логируется
// как предупреждение, а условие считается ложным.
func EvaluateCondition(condition string, scope map[string]any, logger *slog.Logger) bool {
	ok, err := Evaluate(condition, scope)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("condition evaluation failed",
			"condition", condition,
			"error", err,
		)
		return false
	}
	return ok
}

// Truthy приводит значение к bool.
//
// Ложны: nil, false, нулевые числа, пустые строки, пустые коллекции.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
