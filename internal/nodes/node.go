package nodes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/shaiso/flowgraph/internal/engine"
)

// Ошибки узлов.
var (
	// ErrNodeTypeNotFound — тип узла не найден в реестре.
	ErrNodeTypeNotFound = errors.New("node type not found")

	// ErrInvalidConfig — невалидная конфигурация узла.
	ErrInvalidConfig = engine.ErrInvalidNodeConfig

	// ErrNotConfigured — для узла не задана внешняя зависимость (БД, LLM).
	ErrNotConfigured = errors.New("node dependency not configured")

	// ErrNodeCancelled — выполнение узла отменено.
	ErrNodeCancelled = errors.New("node execution cancelled")
)

// Node — executor встроенного типа узла.
type Node interface {
	engine.Executor

	// Type возвращает тип узла ("action/http", "logic/if", ...).
	Type() string
}

// Dependencies — внешние зависимости встроенных узлов.
type Dependencies struct {
	// HTTPClient — клиент для action/http (если nil, создаётся по конфигурации узла).
	HTTPClient *http.Client

	// DB — соединение для action/db.
	DB Querier

	// Mailer — отправщик для action/email (по умолчанию LogMailer).
	Mailer Mailer

	// Agent — LLM-агент для action/ai_agent.
	Agent Agent

	// AgentModel — модель по умолчанию для action/ai_agent.
	AgentModel string

	// Logger — логгер узлов.
	Logger *slog.Logger

	// Now — источник времени для timestamp в результатах.
	Now func() time.Time
}

// withDefaults заполняет незаданные зависимости.
func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Mailer == nil {
		d.Mailer = NewLogMailer(d.Logger)
	}
	return d
}

// timestamp форматирует время для результатов узлов.
func timestamp(now func() time.Time) string {
	return now().Format(time.RFC3339Nano)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator возвращает общий экземпляр validator.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// В сообщениях используем имена ключей конфигурации
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// decodeConfig раскладывает конфигурацию узла в структуру out
// и проверяет её тегами validate.
func decodeConfig(nodeType string, config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, nodeType, err)
	}

	if err := getValidator().Struct(out); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, nodeType, describeValidation(err))
	}

	return nil
}

// describeValidation превращает ошибки validator в читаемый текст.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationError(e))
	}
	return strings.Join(msgs, "; ")
}

// formatValidationError создаёт сообщение по тегу правила.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + e.Param() + " characters"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid (" + e.Tag() + ")"
	}
}

// resolveRef разрешает ссылку на данные контекста.
//
// Строка, целиком состоящая из одного плейсхолдера ("{{fetch.body.items}}"),
// заменяется самим значением без приведения к строке. Остальные значения
// обрабатываются engine.ResolveValue.
func resolveRef(value any, data map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return engine.ResolveValue(value, data)
	}

	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		path := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if v, found := engine.LookupPath(data, path); found {
			return v
		}
	}
	return engine.ResolveTemplate(s, data)
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
