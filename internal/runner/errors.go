package runner

import "errors"

// Ошибки сервиса запусков.
var (
	// ErrInvalidWorkflow — определение не прошло валидацию.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrDuplicateRun — запуск с таким ID уже записан.
	ErrDuplicateRun = errors.New("run already recorded")

	// ErrPersist — журнал запуска не удалось сохранить.
	// Сам workflow при этом мог выполниться.
	ErrPersist = errors.New("persist run")
)
