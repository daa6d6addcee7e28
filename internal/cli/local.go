package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowgraph/internal/api"
	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/runner"
	"github.com/shaiso/flowgraph/internal/scheduler"
	"github.com/shaiso/flowgraph/internal/visual"
)

// ErrWorkflowFailed — запуск завершился ошибкой.
var ErrWorkflowFailed = errors.New("workflow failed")

// ErrWorkflowInvalid — определение не прошло проверку.
var ErrWorkflowInvalid = errors.New("workflow is invalid")

// Local — зависимости команд, выполняющих workflow в процессе CLI.
type Local struct {
	Registry      engine.Registry
	EngineOptions []engine.Option
	Logger        *slog.Logger
}

// Service создаёт runner с журналом в памяти.
func (l *Local) Service() *runner.Service {
	return runner.New(runner.Config{
		Registry:      l.Registry,
		EngineOptions: l.EngineOptions,
		Logger:        l.Logger,
	})
}

// NewRunCmd создаёт команду локального запуска workflow.
func NewRunCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	var inputsFile string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow definition locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := engine.LoadFile(args[0])
			if err != nil {
				return err
			}
			initial, err := parseInputs(inputsFile, inputs)
			if err != nil {
				return err
			}
			local, err := localFn()
			if err != nil {
				return err
			}

			run, res, err := local.Service().Run(cmd.Context(), def, initial)
			if err != nil {
				return err
			}

			out.RunResult(run, res)

			if !res.Success {
				return fmt.Errorf("%w: %s", ErrWorkflowFailed, res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "JSON or YAML file with initial data")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

// NewValidateCmd создаёт команду проверки определения.
func NewValidateCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := engine.LoadFile(args[0])
			if err != nil {
				return err
			}
			local, err := localFn()
			if err != nil {
				return err
			}

			report := api.CheckDefinition(def, func(d *domain.WorkflowDefinition) error {
				return engine.Validate(d, local.Registry)
			})

			out.ValidationReport(report)

			if !report.Valid {
				return fmt.Errorf("%w: %d issue(s)", ErrWorkflowInvalid, len(report.Issues))
			}
			return nil
		},
	}
}

// NewGraphCmd создаёт команду вывода Mermaid-диаграммы определения.
func NewGraphCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Print a Mermaid flowchart of a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := engine.LoadFile(args[0])
			if err != nil {
				return err
			}
			outputFn().Text(visual.Mermaid(def, nil))
			return nil
		},
	}
}

// NewScheduleCmd создаёт команду периодического локального запуска.
// Работает до прерывания (Ctrl+C).
func NewScheduleCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	var cronExpr string
	var every time.Duration
	var timezone string
	var inputsFile string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "schedule FILE",
		Short: "Execute a workflow locally on a cron schedule or interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := engine.LoadFile(args[0])
			if err != nil {
				return err
			}
			initial, err := parseInputs(inputsFile, inputs)
			if err != nil {
				return err
			}
			local, err := localFn()
			if err != nil {
				return err
			}

			svc := local.Service()
			if err := svc.Validate(def); err != nil {
				return err
			}

			sched := domain.Schedule{
				Name:     def.Name,
				Cron:     cronExpr,
				Interval: every,
				Timezone: timezone,
				Enabled:  true,
				Workflow: def,
				Inputs:   initial,
			}
			if sched.Name == "" {
				sched.Name = args[0]
			}

			s := scheduler.New(scheduler.Config{Submitter: svc, Logger: local.Logger})
			if err := s.Add(sched); err != nil {
				return err
			}

			if next := s.Schedules()[0].NextDueAt; next != nil {
				out.Success(fmt.Sprintf("Scheduled %q, next run at %s", sched.Name, next.Format(time.RFC3339)))
			}
			return s.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5 fields or @descriptor)")
	cmd.Flags().DurationVar(&every, "every", 0, "Fixed interval between runs")
	cmd.Flags().StringVar(&timezone, "tz", "", "Timezone for the cron expression (default UTC)")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "JSON or YAML file with initial data")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.MarkFlagsOneRequired("cron", "every")
	cmd.MarkFlagsMutuallyExclusive("cron", "every")

	return cmd
}
