package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/flowgraph/internal/domain"
)

// cronParser — парсер cron-выражений: пять полей или дескриптор (@daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextDue вычисляет следующее время запуска после from в часовом поясе расписания.
// Результат в UTC.
func NextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	switch {
	case sched.IsCron():
		schedule, err := cronParser.Parse(sched.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.Cron, err)
		}
		return schedule.Next(from.In(sched.Location())).UTC(), nil

	case sched.IsInterval():
		return from.Add(sched.Interval).UTC(), nil

	default:
		return time.Time{}, ErrNoTrigger
	}
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// cronSpec возвращает расписание в виде cron.Schedule.
func cronSpec(sched *domain.Schedule) (cron.Schedule, error) {
	switch {
	case sched.IsCron():
		spec, err := cronParser.Parse(sched.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", sched.Cron, err)
		}
		return inLocation{spec: spec, loc: sched.Location()}, nil

	case sched.IsInterval():
		return cron.Every(sched.Interval), nil

	default:
		return nil, ErrNoTrigger
	}
}

// inLocation вычисляет cron-расписание в заданном часовом поясе.
type inLocation struct {
	spec cron.Schedule
	loc  *time.Location
}

func (s inLocation) Next(t time.Time) time.Time {
	return s.spec.Next(t.In(s.loc))
}
