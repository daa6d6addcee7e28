// Package engine содержит движок выполнения workflow.
//
// Включает:
//   - parser.go    — разбор определения из JSON/YAML и валидация
//   - graph.go     — индекс графа: исходящие связи, стартовые узлы, циклы
//   - template.go  — подстановка {{ path }} и data mapping
//   - condition.go — безопасное вычисление условий (expr-lang)
//   - context.go   — RunContext: данные, история, ошибки запуска
//   - engine.go    — обход графа, retry, политики stop/continue
//
// Обход последовательный и в глубину: ветка первой исходящей связи
// вместе со всеми потомками завершается до начала следующей.
// Узел, достижимый по нескольким путям, выполняется на каждом пути.
//
// Узлы-ветвления (logic/if, logic/switch) сами по себе не управляют
// обходом: переходы определяются только условиями связей, которые
// должны ссылаться на результат вышестоящего узла.
package engine
