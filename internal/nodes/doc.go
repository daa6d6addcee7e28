// Package nodes содержит встроенные типы узлов workflow.
//
// # Обзор
//
// Узел — это executor конкретного типа. Каждый узел:
//   - Получает описание узла и живые данные запуска
//   - Подставляет {{ }} шаблоны в своей конфигурации
//   - Возвращает результат, который движок записывает в контекст под id узла
//
// # Registry
//
// Registry реализует engine.Registry и передаётся движку явно:
//
//	registry := nodes.DefaultRegistry(nodes.Dependencies{DB: pool})
//	eng, err := engine.New(def, registry)
//
// # Типы узлов
//
// Триггеры: trigger/manual, trigger/timer, trigger/webhook.
//
// Действия: action/http, action/email, action/db, action/ai_agent, action/delay.
//
// Преобразования: transform/map, transform/filter, transform/validate.
//
// Логика: logic/if, logic/switch, logic/loop, logic/merge.
// if и switch только пишут результат в контекст; переход по рёбрам
// определяют условия соединений.
//
// Внешние системы подключаются через Dependencies: Querier (pgx),
// Mailer (LogMailer, SMTPMailer), Agent (ChatAgent).
//
// # Обработка ошибок
//
// Узлы возвращают типизированные ошибки:
//
//	var (
//	    ErrInvalidConfig   // неверная конфигурация
//	    ErrNotConfigured   // не задана внешняя зависимость
//	    ErrNodeCancelled   // context cancelled
//	)
//
// Ошибка вычисления выражения в filter, if и switch не считается отказом
// узла: результатом становится {"error": "..."}.
//
// Retry логика находится в engine, узлы просто возвращают ошибки.
//
// # Файлы пакета
//
//   - node.go      — интерфейс Node, Dependencies, разбор конфигурации
//   - registry.go  — Registry и DefaultRegistry
//   - trigger.go   — триггеры
//   - http.go      — HTTPNode
//   - email.go     — EmailNode, Mailer
//   - database.go  — DBNode, Querier
//   - agent.go     — AgentNode, ChatAgent
//   - delay.go     — DelayNode
//   - transform.go — MapNode, FilterNode
//   - validate.go  — ValidateNode
//   - logic.go     — IfNode, SwitchNode, LoopNode, MergeNode
package nodes
