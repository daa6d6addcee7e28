// Package cli реализует инструмент командной строки flowgraph.
//
// # Обзор
//
// Команды делятся на две группы:
//   - локальные (run, validate, graph, schedule) выполняют определение
//     из файла в процессе CLI, с журналом запусков в памяти
//   - runs работают с API сервером по HTTP
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для flowgraph API. Инкапсулирует запросы,
// разбор ответов (DataResponse, ListResponse, ErrorResponse)
// и превращение ошибок API в APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, total, err := client.ListRuns(ctx, cli.ListRunsOpts{Status: "FAILED"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: flowgraph runs list --json | jq .
//
// ## Commands
//
// Каждая команда создаётся фабричной функцией (NewRunCmd, NewRunsCmd и т.д.),
// принимающей замыкания для ленивого создания Client, Local и Output
// после парсинга PersistentFlags.
package cli
