// Package scheduler запускает workflow по расписаниям.
//
// Структура:
//   - scheduler.go — Scheduler поверх robfig/cron (Add, Start, Trigger)
//   - cron.go      — разбор cron-выражений и NextDue
//   - file.go      — загрузка расписаний из YAML
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Submitter: runner.NewQueueSubmitter(publisher, "scheduler"),
//	    Logger:    logger,
//	})
//
//	schedules, err := scheduler.LoadFile("schedules.yaml")
//	for _, s := range schedules {
//	    if err := sched.Add(s); err != nil { ... }
//	}
//
//	sched.Run(ctx)
package scheduler
