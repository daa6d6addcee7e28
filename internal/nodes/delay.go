package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
)

const (
	// TypeDelay — тип узла задержки.
	TypeDelay = "action/delay"

	configDurationSec = "duration_sec"
	configDurationMs  = "duration_ms"
)

// DelayNode — узел задержки.
//
// Приостанавливает выполнение на указанное время.
// Поддерживает отмену через context.
//
// Конфигурация:
//
//	{
//	    "duration_sec": 10,    // задержка в секундах
//	    // или
//	    "duration_ms": 5000    // задержка в миллисекундах
//	}
type DelayNode struct{}

// NewDelayNode создаёт DelayNode.
func NewDelayNode() *DelayNode {
	return &DelayNode{}
}

// Type возвращает тип узла.
func (n *DelayNode) Type() string { return TypeDelay }

// ValidateConfig проверяет, что длительность задана.
func (n *DelayNode) ValidateConfig(node *domain.NodeSpec) error {
	_, err := parseDuration(node.Config)
	return err
}

// Execute выполняет задержку.
func (n *DelayNode) Execute(ctx context.Context, node *domain.NodeSpec, _ map[string]any) (map[string]any, error) {
	duration, err := parseDuration(node.Config)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNodeCancelled, ctx.Err())
	case <-timer.C:
		return map[string]any{
			"duration_ms": duration.Milliseconds(),
		}, nil
	}
}

// parseDuration извлекает длительность из конфигурации.
func parseDuration(config map[string]any) (time.Duration, error) {
	if sec := GetConfigInt(config, configDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := GetConfigInt(config, configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required",
		ErrInvalidConfig, TypeDelay)
}
