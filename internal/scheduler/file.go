package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// scheduleFile — формат файла расписаний:
//
//	schedules:
//	  - name: nightly-report
//	    cron: "0 3 * * *"
//	    timezone: Europe/Moscow
//	    workflow_file: workflows/report.yaml
//	    inputs:
//	      recipients: ops@example.com
//	  - name: heartbeat
//	    interval: 30s
//	    workflow:
//	      name: ping
//	      nodes:
//	        - id: start
//	          type: trigger/timer
type scheduleFile struct {
	Schedules []scheduleEntry `yaml:"schedules"`
}

type scheduleEntry struct {
	Name         string         `yaml:"name"`
	Cron         string         `yaml:"cron"`
	Interval     string         `yaml:"interval"`
	Timezone     string         `yaml:"timezone"`
	Enabled      *bool          `yaml:"enabled"`
	WorkflowFile string         `yaml:"workflow_file"`
	Workflow     map[string]any `yaml:"workflow"`
	Inputs       map[string]any `yaml:"inputs"`
}

// LoadFile читает расписания из YAML-файла.
// Пути workflow_file разрешаются относительно каталога файла расписаний.
func LoadFile(path string) ([]domain.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse разбирает YAML расписаний; baseDir — каталог для относительных workflow_file.
func Parse(data []byte, baseDir string) ([]domain.Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	schedules := make([]domain.Schedule, 0, len(file.Schedules))
	for i, entry := range file.Schedules {
		sched, err := entry.toDomain(baseDir)
		if err != nil {
			return nil, fmt.Errorf("schedule #%d (%s): %w", i, entry.Name, err)
		}
		if err := Validate(&sched); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

func (e scheduleEntry) toDomain(baseDir string) (domain.Schedule, error) {
	sched := domain.Schedule{
		Name:     e.Name,
		Cron:     e.Cron,
		Timezone: e.Timezone,
		Enabled:  e.Enabled == nil || *e.Enabled,
		Inputs:   e.Inputs,
	}

	if e.Interval != "" {
		d, err := time.ParseDuration(e.Interval)
		if err != nil {
			return sched, fmt.Errorf("%w: interval: %v", ErrInvalidSchedule, err)
		}
		sched.Interval = d
	}

	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return sched, fmt.Errorf("%w: timezone: %v", ErrInvalidSchedule, err)
		}
	}

	switch {
	case e.WorkflowFile != "" && e.Workflow != nil:
		return sched, fmt.Errorf("%w: workflow and workflow_file are mutually exclusive", ErrInvalidSchedule)

	case e.WorkflowFile != "":
		path := e.WorkflowFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		def, err := engine.LoadFile(path)
		if err != nil {
			return sched, err
		}
		sched.Workflow = def

	case e.Workflow != nil:
		raw, err := json.Marshal(e.Workflow)
		if err != nil {
			return sched, fmt.Errorf("%w: workflow: %v", ErrInvalidSchedule, err)
		}
		def, err := engine.ParseJSON(raw)
		if err != nil {
			return sched, err
		}
		sched.Workflow = def
	}

	return sched, nil
}
