package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/repo"
	"github.com/shaiso/flowgraph/internal/telemetry"
)

// EventPublisher публикует итог запуска. Реализация: *mq.Publisher.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, payload mq.RunCompletedPayload) error
}

var _ EventPublisher = (*mq.Publisher)(nil)

// Service выполняет workflow и записывает журнал запусков.
type Service struct {
	registry  engine.Registry
	store     RunStore
	events    EventPublisher
	observers []engine.Observer
	options   []engine.Option
	logger    *slog.Logger

	active atomic.Int64
}

// Config — конфигурация Service.
type Config struct {
	// Registry — реестр executor'ов узлов (обязателен).
	Registry engine.Registry

	// Store — журнал запусков. Если nil — MemoryStore.
	Store RunStore

	// Events — публикация run.completed (опционально).
	Events EventPublisher

	// Observers — наблюдатели каждого запуска (метрики и т.п.).
	Observers []engine.Observer

	// EngineOptions — опции движка (retry, лимит шагов, clock).
	EngineOptions []engine.Option

	Logger *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		registry:  cfg.Registry,
		store:     store,
		events:    cfg.Events,
		observers: cfg.Observers,
		options:   cfg.EngineOptions,
		logger:    telemetry.WithComponent(logger, "runner"),
	}
}

// Store возвращает журнал запусков.
func (s *Service) Store() RunStore {
	return s.store
}

// Registry возвращает реестр узлов.
func (s *Service) Registry() engine.Registry {
	return s.registry
}

// Active возвращает количество выполняющихся сейчас запусков.
func (s *Service) Active() int {
	return int(s.active.Load())
}

// Validate проверяет определение по реестру сервиса.
func (s *Service) Validate(def *domain.WorkflowDefinition) error {
	if err := engine.Validate(def, s.registry); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	return nil
}

// Run выполняет workflow с новым ID запуска.
func (s *Service) Run(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any) (*domain.Run, *engine.Result, error) {
	return s.RunWithID(ctx, uuid.Nil, def, inputs)
}

// RunWithID выполняет workflow под заданным ID (uuid.Nil — новый ID).
//
// Ошибки:
//   - ErrInvalidWorkflow — определение отклонено, запись не создана
//   - ErrDuplicateRun — запуск с этим ID уже начат или завершён, workflow не выполнялся
//   - ErrPersist — workflow выполнен, но журнал не сохранён; run и result заполнены
//
// Неуспешный workflow не является ошибкой: статус FAILED и ошибки
// узлов находятся в run и result.
func (s *Service) RunWithID(ctx context.Context, id uuid.UUID, def *domain.WorkflowDefinition, inputs map[string]any) (*domain.Run, *engine.Result, error) {
	if def == nil {
		return nil, nil, fmt.Errorf("%w: definition is nil", ErrInvalidWorkflow)
	}

	run := domain.NewRun(def, inputs)
	if id != uuid.Nil {
		run.ID = id
	}

	logger := telemetry.WithRunID(telemetry.WithWorkflow(s.logger, def.Name), run.ID.String())

	opts := make([]engine.Option, 0, len(s.options)+2)
	opts = append(opts, s.options...)
	opts = append(opts, engine.WithLogger(logger), engine.WithObserver(s.observers...))

	eng, err := engine.New(def, s.registry, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	if err := s.create(ctx, run, logger); err != nil {
		return nil, nil, err
	}

	// Статус RUNNING промежуточный: итог всё равно перезапишет persist.
	run.MarkRunning()
	if err := s.store.Update(ctx, run); err != nil {
		logger.Warn("failed to mark run as running", "error", err)
	}

	s.active.Add(1)
	logger.Info("run started")
	res := eng.ExecuteWorkflow(telemetry.WithLogger(ctx, logger), inputs)
	s.active.Add(-1)

	// Итог записывается и при отменённом ctx.
	persistCtx := context.WithoutCancel(ctx)
	finishRun(run, res)

	persistErr := s.persist(persistCtx, run, res)
	s.publish(persistCtx, run, res, logger)

	logger.Info("run finished",
		"status", run.Status,
		"partial", res.Partial(),
		"total_errors", run.TotalErrors,
		"duration", run.Duration(),
	)

	if persistErr != nil {
		return run, res, persistErr
	}
	return run, res, nil
}

// create записывает новый запуск. Запись в статусе PENDING с тем же ID
// остаётся от прерванной попытки и выполняется заново.
func (s *Service) create(ctx context.Context, run *domain.Run, logger *slog.Logger) error {
	err := s.store.Create(ctx, run)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrAlreadyExists) {
		return fmt.Errorf("%w: create: %w", ErrPersist, err)
	}

	stored, getErr := s.store.GetByID(ctx, run.ID)
	if getErr != nil {
		return fmt.Errorf("%w: lookup existing: %w", ErrPersist, getErr)
	}
	if stored.Status != domain.RunStatusPending {
		return fmt.Errorf("%w: %s (%s)", ErrDuplicateRun, run.ID, stored.Status)
	}

	logger.Warn("found pending run with same id, executing it")
	run.CreatedAt = stored.CreatedAt
	return nil
}

// finishRun переносит итог движка в запись запуска.
func finishRun(run *domain.Run, res *engine.Result) {
	run.Context = res.Context
	run.TotalUpdates = res.Summary.TotalUpdates
	run.TotalErrors = res.Summary.TotalErrors

	if res.Success {
		run.MarkSucceeded()
		return
	}
	run.MarkFailed(res.Error)
}

func (s *Service) persist(ctx context.Context, run *domain.Run, res *engine.Result) error {
	if err := s.store.SaveNodeRuns(ctx, run.ID, res.Nodes); err != nil {
		return fmt.Errorf("%w: node runs: %w", ErrPersist, err)
	}
	if err := s.store.Update(ctx, run); err != nil {
		return fmt.Errorf("%w: finish: %w", ErrPersist, err)
	}
	return nil
}

// publish отправляет run.completed. Ошибка публикации только логируется.
func (s *Service) publish(ctx context.Context, run *domain.Run, res *engine.Result, logger *slog.Logger) {
	if s.events == nil {
		return
	}

	payload := mq.RunCompletedPayload{
		RunID:       run.ID,
		Workflow:    run.Workflow,
		Status:      run.Status,
		Partial:     res.Partial(),
		TotalErrors: run.TotalErrors,
		Error:       run.Error,
		DurationMs:  run.Duration().Milliseconds(),
	}
	if err := s.events.PublishRunCompleted(ctx, payload); err != nil {
		logger.Warn("failed to publish run.completed", "error", err)
	}
}

// Submit выполняет workflow синхронно и возвращает ID запуска.
func (s *Service) Submit(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any) (uuid.UUID, error) {
	run, _, err := s.Run(ctx, def, inputs)
	if err != nil {
		if run != nil {
			return run.ID, err
		}
		return uuid.Nil, err
	}
	return run.ID, nil
}
