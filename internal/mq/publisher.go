package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/flowgraph/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeRunCompleted MessageType = "run.completed"
)

// Message — конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage упаковывает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// RunRequestedPayload — запрос на выполнение workflow воркером.
type RunRequestedPayload struct {
	// RequestID — ID запроса; воркер использует его как ID запуска.
	RequestID uuid.UUID                  `json:"request_id"`
	Workflow  *domain.WorkflowDefinition `json:"workflow"`
	Inputs    map[string]any             `json:"inputs,omitempty"`
	// Source — кто запросил запуск: "api", "scheduler", "cli".
	Source string `json:"source,omitempty"`
}

// RunCompletedPayload — итог запуска.
type RunCompletedPayload struct {
	RunID       uuid.UUID        `json:"run_id"`
	Workflow    string           `json:"workflow"`
	Status      domain.RunStatus `json:"status"`
	Partial     bool             `json:"partial"`
	TotalErrors int              `json:"total_errors"`
	Error       string           `json:"error,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn          *Connection
	logger        *slog.Logger
	reconnectWait time.Duration
}

// PublisherOption настраивает Publisher.
type PublisherOption func(*Publisher)

// WithReconnectWait задаёт, сколько Publish ждёт восстановления
// соединения, прежде чем вернуть ErrNoChannel. 0 — не ждать.
func WithReconnectWait(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.reconnectWait = d }
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		conn:   conn,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish публикует сообщение в exchange с routing key.
// Во время переподключения ждёт канал не дольше reconnectWait.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.publish(ctx, exchange, routingKey, msg, body)
	if !errors.Is(err, ErrNoChannel) || p.reconnectWait <= 0 {
		return err
	}

	p.logger.Warn("no channel, waiting for reconnect",
		"routing_key", routingKey,
		"message_id", msg.ID,
		"wait", p.reconnectWait,
	)
	if err := p.conn.WaitConnected(ctx, p.reconnectWait); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	return p.publish(ctx, exchange, routingKey, msg, body)
}

func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, body []byte) error {
	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunRequested ставит workflow в очередь на выполнение.
// Потребитель: flowgraph-worker.
func (p *Publisher) PublishRunRequested(ctx context.Context, payload RunRequestedPayload) error {
	if payload.RequestID == uuid.Nil {
		payload.RequestID = uuid.New()
	}
	msg, err := NewMessage(MessageTypeRunRequested, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishRunCompleted публикует итог запуска.
func (p *Publisher) PublishRunCompleted(ctx context.Context, payload RunCompletedPayload) error {
	msg, err := NewMessage(MessageTypeRunCompleted, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCompleted, msg)
}
