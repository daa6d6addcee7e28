// Package runner выполняет workflow целиком и ведёт журнал запусков.
//
// Service связывает движок, реестр узлов, хранилище запусков и
// публикацию событий:
//
//	svc := runner.New(runner.Config{
//	    Registry: nodes.DefaultRegistry(deps),
//	    Store:    repo.NewRunRepo(pool),
//	    Events:   publisher,
//	    Logger:   logger,
//	})
//
//	run, res, err := svc.Run(ctx, def, inputs)
//
// Запуск проходит статусы PENDING → RUNNING → SUCCEEDED|FAILED.
// Невалидное определение отклоняется до создания записи.
// Прерванный запуск не возобновляется: журнал служит только историей.
package runner
