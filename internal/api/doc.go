// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с зависимостями (runner, очередь, метрики)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — logging, recovery, метрики запросов
//   - response.go         — единый формат ответов и ошибок
//   - dto.go              — Data Transfer Objects
//   - run_handler.go      — /api/v1/runs
//   - workflow_handler.go — /api/v1/workflows, /healthz
//
// Ошибки возвращаются как {"error": {"code", "message", "details"}}.
package api
