package scheduler

import "errors"

var (
	// ErrNoTrigger — у расписания нет ни cron, ни interval.
	ErrNoTrigger = errors.New("schedule has neither cron nor interval")

	// ErrDuplicateSchedule — расписание с таким именем уже добавлено.
	ErrDuplicateSchedule = errors.New("duplicate schedule name")

	// ErrInvalidSchedule — расписание не прошло проверку.
	ErrInvalidSchedule = errors.New("invalid schedule")
)
