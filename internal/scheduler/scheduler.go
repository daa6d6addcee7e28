package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/telemetry"
)

// Submitter отправляет workflow на выполнение.
// Реализации: *runner.Service (в процессе), *runner.QueueSubmitter (через очередь).
type Submitter interface {
	Submit(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any) (uuid.UUID, error)
}

// Scheduler запускает workflow по расписаниям.
//
// Запуски одного расписания не перекрываются: если предыдущий ещё
// выполняется, очередное срабатывание пропускается.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	schedules map[string]*entry
	baseCtx   context.Context
}

type entry struct {
	sched domain.Schedule
	id    cron.EntryID
}

// Config — конфигурация Scheduler.
type Config struct {
	Submitter Submitter
	Logger    *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithComponent(logger, "scheduler")

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		submitter: cfg.Submitter,
		logger:    logger,
		now:       now,
		schedules: make(map[string]*entry),
		baseCtx:   context.Background(),
	}
}

// Add регистрирует расписание. Выключенное расписание хранится, но не срабатывает.
func (s *Scheduler) Add(sched domain.Schedule) error {
	if err := Validate(&sched); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sched.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSchedule, sched.Name)
	}

	e := &entry{sched: sched}
	if sched.Enabled {
		spec, err := cronSpec(&sched)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidSchedule, sched.Name, err)
		}
		name := sched.Name
		e.id = s.cron.Schedule(spec, cron.FuncJob(func() { s.fire(name) }))
	}
	s.schedules[sched.Name] = e

	s.logger.Info("schedule added",
		"schedule", sched.Name,
		"workflow", sched.Workflow.Name,
		"cron", sched.Cron,
		"interval", sched.Interval,
		"enabled", sched.Enabled,
	)
	return nil
}

// Validate проверяет расписание без регистрации.
func Validate(sched *domain.Schedule) error {
	if sched.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if sched.Workflow == nil {
		return fmt.Errorf("%w: %s: workflow is required", ErrInvalidSchedule, sched.Name)
	}
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.Cron); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidSchedule, sched.Name, err)
		}
		return nil
	}
	if !sched.IsInterval() {
		return fmt.Errorf("%w: %s: %w", ErrInvalidSchedule, sched.Name, ErrNoTrigger)
	}
	return nil
}

// Start запускает планировщик в фоне. Запуски получают контекст ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.Schedules()))
}

// Stop останавливает планировщик. Возвращённый контекст завершается,
// когда закончатся выполняющиеся запуски.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Run работает до отмены ctx, затем дожидается текущих запусков.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()

	s.logger.Info("stopping scheduler...")
	<-s.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger немедленно отправляет workflow расписания на выполнение.
func (s *Scheduler) Trigger(ctx context.Context, name string) (uuid.UUID, error) {
	s.mu.Lock()
	e, ok := s.schedules[name]
	if !ok {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("schedule %q not found", name)
	}
	def, inputs := e.sched.Workflow, e.sched.Inputs
	s.mu.Unlock()

	logger := s.logger.With("schedule", name, "workflow", def.Name)
	logger.Info("schedule fired")

	runID, err := s.submitter.Submit(ctx, def, copyInputs(inputs))
	if err != nil {
		logger.Error("failed to submit scheduled run", "error", err)
	} else {
		logger.Info("scheduled run submitted", "run_id", runID)
	}

	s.mu.Lock()
	e.sched.RecordRun(s.now(), runID, err)
	s.mu.Unlock()

	return runID, err
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	_, _ = s.Trigger(ctx, name)
}

// Schedules возвращает копии расписаний, отсортированные по имени,
// с заполненным NextDueAt.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := make([]domain.Schedule, 0, len(s.schedules))
	for _, e := range s.schedules {
		sched := e.sched
		if sched.Enabled {
			next := s.cron.Entry(e.id).Next
			if next.IsZero() {
				next, _ = NextDue(&sched, now)
			}
			if !next.IsZero() {
				next = next.UTC()
				sched.NextDueAt = &next
			}
		}
		result = append(result, sched)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func copyInputs(inputs map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	return out
}

// cronLogger — адаптер slog к cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
