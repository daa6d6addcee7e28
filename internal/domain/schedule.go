package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска workflow.
//
// Запуск по cron-выражению ("0 9 * * *") или по интервалу ("30s").
// Если задан Cron, Interval игнорируется.
type Schedule struct {
	// Name — уникальное имя расписания.
	Name string `json:"name" yaml:"name"`

	// Cron — cron-выражение из пяти полей или дескриптор (@daily, @hourly).
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Interval — интервал между запусками.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Enabled — неактивные расписания не регистрируются.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Workflow — определение, которое запускается по расписанию.
	Workflow *WorkflowDefinition `json:"workflow" yaml:"-"`

	// Inputs — начальные данные каждого запуска.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"-"`

	// LastRunID — ID последнего запуска.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty" yaml:"-"`

	// LastError — ошибка последней отправки на выполнение.
	LastError string `json:"last_error,omitempty" yaml:"-"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.Cron != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.Cron == "" && s.Interval > 0
}

// Location возвращает часовой пояс расписания (UTC, если не задан или неизвестен).
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(at time.Time, runID uuid.UUID, err error) {
	s.LastRunAt = &at
	if runID != uuid.Nil {
		s.LastRunID = &runID
	}
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
}
