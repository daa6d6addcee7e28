package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoWorkflow — в запросе нет определения workflow.
	ErrNoWorkflow = errors.New("request has no workflow")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
