package nodes

import (
	"context"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
)

// Типы узлов-триггеров.
const (
	TypeManualTrigger  = "trigger/manual"
	TypeTimerTrigger   = "trigger/timer"
	TypeWebhookTrigger = "trigger/webhook"

	// webhookDataKey — ключ начальных данных с телом webhook-запроса.
	webhookDataKey = "webhook_data"

	defaultTimerInterval = "1m"
)

// ManualTrigger — узел ручного запуска.
//
// Outputs:
//
//	{"triggered": true, "timestamp": "2024-01-01T00:00:00Z"}
type ManualTrigger struct {
	now func() time.Time
}

// NewManualTrigger создаёт ManualTrigger.
func NewManualTrigger(deps Dependencies) *ManualTrigger {
	return &ManualTrigger{now: deps.withDefaults().Now}
}

// Type возвращает тип узла.
func (n *ManualTrigger) Type() string { return TypeManualTrigger }

// Execute возвращает отметку о срабатывании.
func (n *ManualTrigger) Execute(_ context.Context, _ *domain.NodeSpec, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"triggered": true,
		"timestamp": timestamp(n.now),
	}, nil
}

// TimerTrigger — узел запуска по расписанию.
//
// Само расписание задаётся в scheduler; узел лишь отражает интервал в результате.
//
// Конфигурация:
//
//	{"interval": "5m"}
type TimerTrigger struct {
	now func() time.Time
}

// NewTimerTrigger создаёт TimerTrigger.
func NewTimerTrigger(deps Dependencies) *TimerTrigger {
	return &TimerTrigger{now: deps.withDefaults().Now}
}

// Type возвращает тип узла.
func (n *TimerTrigger) Type() string { return TypeTimerTrigger }

// Execute возвращает отметку о срабатывании с интервалом.
func (n *TimerTrigger) Execute(_ context.Context, node *domain.NodeSpec, _ map[string]any) (map[string]any, error) {
	interval := GetConfigString(node.Config, "interval")
	if interval == "" {
		interval = defaultTimerInterval
	}
	return map[string]any{
		"triggered": true,
		"timestamp": timestamp(n.now),
		"interval":  interval,
	}, nil
}

// WebhookTrigger — узел запуска по входящему webhook.
//
// Тело запроса передаётся в начальных данных под ключом webhook_data.
type WebhookTrigger struct {
	now func() time.Time
}

// NewWebhookTrigger создаёт WebhookTrigger.
func NewWebhookTrigger(deps Dependencies) *WebhookTrigger {
	return &WebhookTrigger{now: deps.withDefaults().Now}
}

// Type возвращает тип узла.
func (n *WebhookTrigger) Type() string { return TypeWebhookTrigger }

// Execute возвращает данные webhook из контекста.
func (n *WebhookTrigger) Execute(_ context.Context, _ *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	payload, ok := data[webhookDataKey]
	if !ok || payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"triggered":    true,
		"webhook_data": payload,
		"timestamp":    timestamp(n.now),
	}, nil
}
