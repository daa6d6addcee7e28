// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — конверт сообщения и публикация
//   - consumer.go   — потребление с ack/requeue/DLQ
//
// Типы сообщений:
//   - run.requested — workflow поставлен в очередь на выполнение
//   - run.completed — запуск завершён
package mq
