package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowgraph/internal/engine"
)

// NewRunsCmd создаёт группу команд для работы с журналом запусков через API.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage runs on the API server",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsNodesCmd(clientFn, outputFn),
		newRunsGraphCmd(clientFn, outputFn),
		newRunsSubmitCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, total, err := client.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out.Runs(runs, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "Filter by workflow name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.RunDetail(run)
			return nil
		},
	}
}

func newRunsNodesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes RUN_ID",
		Short: "List node executions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			nodes, err := client.ListRunNodes(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.NodeRuns(nodes)
			return nil
		},
	}
}

func newRunsGraphCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "graph RUN_ID",
		Short: "Print a Mermaid flowchart of a run with node outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := clientFn().RunGraph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Text(graph)
			return nil
		},
	}
}

func newRunsSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputsFile string
	var inputs []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a workflow definition to the API server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := engine.LoadFile(args[0])
			if err != nil {
				return err
			}
			initial, err := parseInputs(inputsFile, inputs)
			if err != nil {
				return err
			}
			req := CreateRunRequest{Workflow: def, Inputs: initial}

			if !wait {
				accepted, err := client.SubmitRun(cmd.Context(), req)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Run queued: %s", accepted.RunID))
				out.Print([]string{"RUN_ID", "STATUS"}, [][]string{{accepted.RunID, accepted.Status}}, accepted)
				return nil
			}

			run, err := client.ExecuteRun(cmd.Context(), req)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run finished: %s", run.ID))
			out.RunDetail(run)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "JSON or YAML file with initial data")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Execute synchronously and wait for the result")

	return cmd
}
