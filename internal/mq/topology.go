package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeRuns Exchange = "flowgraph.runs"
	ExchangeDLQ  Exchange = "flowgraph.dlq"
)

const (
	QueueRunsRequested Queue = "runs.requested"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

const (
	RoutingKeyRequested RoutingKey = "requested"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// Topology — полный набор объявлений брокера.
type Topology struct {
	exchanges []exchangeDecl
	queues    []queueDecl
	bindings  []bindingDecl
}

// DefaultTopology возвращает топологию flowgraph.
//
// runs.requested отправляет отклонённые сообщения в dlq.runs.
func DefaultTopology() Topology {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	return Topology{
		exchanges: []exchangeDecl{
			{ExchangeRuns, amqp.ExchangeDirect},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		queues: []queueDecl{
			{QueueRunsRequested, dlqArgs},
			{QueueRunsCompleted, nil},
			{QueueDLQRuns, nil},
		},
		bindings: []bindingDecl{
			{QueueRunsRequested, RoutingKeyRequested, ExchangeRuns},
			{QueueRunsCompleted, RoutingKeyCompleted, ExchangeRuns},
			{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
		},
	}
}

// Queues возвращает имена объявляемых очередей.
func (t Topology) Queues() []Queue {
	names := make([]Queue, len(t.queues))
	for i, q := range t.queues {
		names[i] = q.name
	}
	return names
}

// DeadLetterFor возвращает обменник dead letter для очереди или "".
func (t Topology) DeadLetterFor(queue Queue) Exchange {
	for _, q := range t.queues {
		if q.name != queue || q.args == nil {
			continue
		}
		if ex, ok := q.args["x-dead-letter-exchange"].(string); ok {
			return Exchange(ex)
		}
	}
	return ""
}

// SetupTopology объявляет обменники, очереди и привязки.
// Повторный вызов безопасен: объявления идемпотентны.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, DeclareTopology)
}

// DeclareTopology объявляет DefaultTopology на канале.
// Подходит для ConnectionConfig.OnReconnect.
func DeclareTopology(ch *amqp.Channel) error {
	return DefaultTopology().Declare(ch)
}

// Declare применяет топологию к каналу.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	for _, q := range t.queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	for _, b := range t.bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  flowgraph RabbitMQ topology:

    flowgraph.runs (direct)
    ├── runs.requested [routing: requested]
    │       Consumer: flowgraph-worker
    │       DLQ: dlq.runs
    └── runs.completed [routing: completed]
            Consumer: внешние подписчики

    flowgraph.dlq (direct)
    └── dlq.runs [routing: runs]
            Ручной разбор
`
}
