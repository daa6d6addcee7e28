// Package worker выполняет запуски, поставленные в очередь.
//
// Worker потребляет сообщения run.requested из очереди runs.requested
// и выполняет каждый workflow целиком через runner.Service. Один запуск
// никогда не делится между воркерами; несколько воркеров конкурируют
// за сообщения одной очереди.
//
// Подтверждение сообщений:
//   - workflow выполнен (в любом статусе) → ack
//   - битый payload или невалидное определение → DLQ
//   - запуск с этим ID уже записан → ack (повторная доставка)
//   - ошибка журнала → requeue один раз, затем DLQ
package worker
