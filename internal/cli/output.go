package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shaiso/flowgraph/internal/api"
	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// Output форматирует вывод CLI: данные в stdout, сообщения в stderr.
// В JSON-режиме данные выводятся как есть, таблицы и сводки не печатаются.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output для stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// JSONMode сообщает, включён ли вывод в JSON.
func (o *Output) JSONMode() bool {
	return o.jsonMode
}

// Print выводит таблицу или jsonData в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит строки под заголовками с подчёркиванием.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// fields выводит пары "ключ: значение" без заголовка, пустые значения пропускаются.
func (o *Output) fields(pairs [][2]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 1, ' ', 0)
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	tw.Flush()
}

// JSON выводит v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		o.Error(fmt.Sprintf("encode output: %v", err))
	}
}

// Text выводит текст как есть (диаграммы).
func (o *Output) Text(s string) {
	fmt.Fprint(o.w, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(o.w)
	}
}

// Success выводит сообщение в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// Run rendering

var nodeRunHeaders = []string{"SEQ", "NODE", "TYPE", "STATUS", "ATTEMPT", "DURATION", "ERROR"}

// RunResult выводит итог локального запуска: узлы, ошибки и сводку.
func (o *Output) RunResult(run *domain.Run, res *engine.Result) {
	if o.jsonMode {
		o.JSON(res)
		return
	}

	rows := make([][]string, len(res.Nodes))
	for i, n := range res.Nodes {
		rows[i] = []string{
			strconv.Itoa(n.Seq), n.NodeID, n.Type, string(n.Status),
			strconv.Itoa(n.Attempt), formatDuration(n.Duration()), firstLine(n.Error),
		}
	}
	o.Table(nodeRunHeaders, rows)

	if len(res.Errors) > 0 {
		fmt.Fprintln(o.w)
		errRows := make([][]string, len(res.Errors))
		for i, e := range res.Errors {
			errRows[i] = []string{e.NodeID, e.Timestamp.Format(time.TimeOnly), firstLine(e.Message)}
		}
		o.Table([]string{"FAILED NODE", "AT", "ERROR"}, errRows)
	}

	o.Success(runSummary(run, res))
}

// runSummary — однострочная сводка запуска.
func runSummary(run *domain.Run, res *engine.Result) string {
	status := string(run.Status)
	if res.Partial() {
		status += " (partial)"
	}
	return fmt.Sprintf("Run %s: %s, %d node(s), %d update(s), %d error(s), %s",
		run.ID, status, len(res.Nodes), res.Summary.TotalUpdates, res.Summary.TotalErrors,
		formatDuration(res.Duration()))
}

// Runs выводит страницу журнала запусков.
func (o *Output) Runs(runs []RunResponse, total int) {
	if o.jsonMode {
		o.JSON(runs)
		return
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.ID, r.Workflow, r.Status,
			strconv.Itoa(r.TotalUpdates), strconv.Itoa(r.TotalErrors), r.CreatedAt,
		}
	}
	o.Table([]string{"ID", "WORKFLOW", "STATUS", "UPDATES", "ERRORS", "CREATED"}, rows)

	if total > len(runs) {
		o.Success(fmt.Sprintf("Showing %d of %d runs", len(runs), total))
	}
}

// RunDetail выводит один запуск и ключи его контекста.
func (o *Output) RunDetail(run *RunResponse) {
	if o.jsonMode {
		o.JSON(run)
		return
	}

	o.fields([][2]string{
		{"ID", run.ID},
		{"Workflow", run.Workflow},
		{"Status", run.Status},
		{"Updates", strconv.Itoa(run.TotalUpdates)},
		{"Errors", strconv.Itoa(run.TotalErrors)},
		{"Created", run.CreatedAt},
		{"Started", run.StartedAt},
		{"Finished", run.FinishedAt},
		{"Duration", formatDuration(time.Duration(run.DurationMs) * time.Millisecond)},
		{"Error", run.Error},
		{"Context", strings.Join(sortedKeys(run.Context), ", ")},
	})
}

// NodeRuns выводит выполнения узлов запуска из API.
func (o *Output) NodeRuns(nodes []NodeRunResponse) {
	if o.jsonMode {
		o.JSON(nodes)
		return
	}

	rows := make([][]string, len(nodes))
	for i, n := range nodes {
		rows[i] = []string{
			strconv.Itoa(n.Seq), n.NodeID, n.Type, n.Status, strconv.Itoa(n.Attempt),
			formatDuration(time.Duration(n.DurationMs) * time.Millisecond), firstLine(n.Error),
		}
	}
	o.Table(nodeRunHeaders, rows)
}

// ValidationReport выводит результат проверки определения.
func (o *Output) ValidationReport(report api.ValidateResponse) {
	if o.jsonMode {
		o.JSON(report)
		return
	}

	if len(report.Issues) > 0 {
		rows := make([][]string, len(report.Issues))
		for i, issue := range report.Issues {
			conn := ""
			if issue.Connection != nil {
				conn = strconv.Itoa(*issue.Connection)
			}
			rows[i] = []string{issue.NodeID, conn, issue.Field, issue.Message}
		}
		o.Table([]string{"NODE", "CONNECTION", "FIELD", "MESSAGE"}, rows)
		return
	}

	msg := fmt.Sprintf("Workflow %q is valid, start nodes: %s", report.Workflow, strings.Join(report.StartNodes, ", "))
	if report.HasCycle {
		msg += " (contains cycles, bounded by max steps)"
	}
	o.Success(msg)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Millisecond {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}

// firstLine обрезает многострочные ошибки (trace попыток) для таблиц.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
