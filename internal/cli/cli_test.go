package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowgraph/internal/api"
	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/nodes"
)

const demoWorkflow = `
name: demo
nodes:
  - id: start
    type: trigger/manual
  - id: shape
    type: transform/map
    config:
      mappings:
        greeting: "Hello, {{user}}"
connections:
  - from: start
    to: shape
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testOutput(jsonMode bool) (*Output, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Output{jsonMode: jsonMode, w: &stdout, errW: &stderr}, &stdout, &stderr
}

func testLocal() (*Local, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Local{
		Registry: nodes.DefaultRegistry(nodes.Dependencies{Logger: logger}),
		EngineOptions: []engine.Option{
			engine.WithRetryPolicy(engine.RetryPolicy{MaxAttempts: 1}),
		},
		Logger: logger,
	}, nil
}

func TestParseInputs(t *testing.T) {
	file := writeFile(t, "inputs.yaml", "user: ann\ncount: 1\n")

	got, err := parseInputs(file, []string{"count=5", "flag=true", "name=bob", "obj={\"a\":1}"})
	require.NoError(t, err)
	assert.Equal(t, "ann", got["user"])
	assert.Equal(t, float64(5), got["count"])
	assert.Equal(t, true, got["flag"])
	assert.Equal(t, "bob", got["name"])
	assert.Equal(t, map[string]any{"a": float64(1)}, got["obj"])

	got, err = parseInputs("", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseInputs("", []string{"novalue"})
	assert.Error(t, err)

	_, err = parseInputs(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestRunCmd(t *testing.T) {
	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, stdout, _ := testOutput(true)

	cmd := NewRunCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path, "--input", "user=ann"})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())

	var res engine.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "demo", res.Workflow)
	shape, ok := res.Context["shape"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hello, ann", shape["greeting"])
}

func TestRunCmd_Table(t *testing.T) {
	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, stdout, stderr := testOutput(false)

	cmd := NewRunCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "SEQ")
	assert.Contains(t, stdout.String(), "transform/map")
	assert.Contains(t, stderr.String(), "SUCCEEDED")
}

func TestRunCmd_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := writeFile(t, "fail.yaml", `
name: fail
nodes:
  - id: start
    type: trigger/manual
  - id: call
    type: action/http
    config:
      url: "`+srv.URL+`"
      fail_on_status: true
connections:
  - from: start
    to: call
`)
	out, stdout, _ := testOutput(true)

	cmd := NewRunCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path})
	cmd.SetContext(context.Background())
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.ErrorIs(t, err, ErrWorkflowFailed)

	var res engine.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
}

func TestRunCmd_InvalidWorkflow(t *testing.T) {
	path := writeFile(t, "bad.yaml", "name: bad\nnodes:\n  - id: a\n    type: nope/unknown\n")
	out, _, _ := testOutput(false)

	cmd := NewRunCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path})
	cmd.SetContext(context.Background())
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnknownNodeType)
}

func TestValidateCmd(t *testing.T) {
	valid := writeFile(t, "demo.yaml", demoWorkflow)
	out, _, stderr := testOutput(false)

	cmd := NewValidateCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{valid})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stderr.String(), `"demo" is valid`)

	invalid := writeFile(t, "bad.yaml", `
name: bad
nodes:
  - id: a
    type: trigger/manual
connections:
  - from: a
    to: ghost
`)
	out, stdout, _ := testOutput(false)
	cmd = NewValidateCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{invalid})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.ErrorIs(t, err, ErrWorkflowInvalid)
	assert.Contains(t, stdout.String(), "ghost")
}

func TestGraphCmd(t *testing.T) {
	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, stdout, _ := testOutput(false)

	cmd := NewGraphCmd(func() *Output { return out })
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "flowchart TD")
	assert.Contains(t, stdout.String(), "n_start --> n_shape")
}

func TestScheduleCmd_RequiresTrigger(t *testing.T) {
	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, _, _ := testOutput(false)

	cmd := NewScheduleCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	assert.Error(t, cmd.Execute())
}

func TestScheduleCmd_RunsUntilCancelled(t *testing.T) {
	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, _, stderr := testOutput(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewScheduleCmd(testLocal, func() *Output { return out })
	cmd.SetArgs([]string{path, "--cron", "@hourly"})
	cmd.SetContext(ctx)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stderr.String(), `Scheduled "demo"`)
}

// apiStub отвечает как flowgraph API.
func apiStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FAILED", r.URL.Query().Get("status"))
		assert.Equal(t, "demo", r.URL.Query().Get("workflow"))
		_, _ = w.Write([]byte(`{"data":[{"id":"r1","workflow":"demo","status":"FAILED","total_errors":1}],"total":3}`))
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "r1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"run not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"r1","workflow":"demo","status":"SUCCEEDED","total_updates":2}}`))
	})
	mux.HandleFunc("GET /api/v1/runs/{id}/nodes", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"seq":1,"node_id":"start","type":"trigger/manual","status":"SUCCEEDED","attempt":1}],"total":1}`))
	})
	mux.HandleFunc("GET /api/v1/runs/{id}/graph", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"workflow":"demo","mermaid":"flowchart TD\n"}}`))
	})
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Workflow == nil || len(req.Workflow.Nodes) == 0 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"code":"INVALID_WORKFLOW","message":"workflow is invalid","details":[{"node_id":"a","message":"unknown node type"}]}}`))
			return
		}
		if r.URL.Query().Get("async") == "true" {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"data":{"run_id":"r2","status":"PENDING"}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"run":{"id":"r3","workflow":"demo","status":"SUCCEEDED"},"result":{"success":true}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := apiStub(t)
	client := NewClient(srv.URL + "/")
	ctx := context.Background()

	runs, total, err := client.ListRuns(ctx, ListRunsOpts{Workflow: "demo", Status: "FAILED"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].TotalErrors)

	run, err := client.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.TotalUpdates)

	_, err = client.GetRun(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND: run not found", apiErr.Error())

	nodeRuns, err := client.ListRunNodes(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, nodeRuns, 1)
	assert.Equal(t, "start", nodeRuns[0].NodeID)

	graph, err := client.RunGraph(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "flowchart TD\n", graph)
}

func TestClient_Submit(t *testing.T) {
	srv := apiStub(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	def, err := engine.ParseYAML([]byte(demoWorkflow))
	require.NoError(t, err)

	accepted, err := client.SubmitRun(ctx, CreateRunRequest{Workflow: def})
	require.NoError(t, err)
	assert.Equal(t, "r2", accepted.RunID)
	assert.Equal(t, "PENDING", accepted.Status)

	run, err := client.ExecuteRun(ctx, CreateRunRequest{Workflow: def})
	require.NoError(t, err)
	assert.Equal(t, "r3", run.ID)

	def.Nodes = nil
	_, err = client.ExecuteRun(ctx, CreateRunRequest{Workflow: def})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_WORKFLOW")
	assert.Contains(t, err.Error(), "a: unknown node type")
}

func TestRunsCmd(t *testing.T) {
	srv := apiStub(t)
	clientFn := func() *Client { return NewClient(srv.URL) }

	out, stdout, stderr := testOutput(false)
	cmd := NewRunsCmd(clientFn, func() *Output { return out })
	cmd.SetArgs([]string{"list", "--workflow", "demo", "--status", "FAILED"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "r1")
	assert.Contains(t, stderr.String(), "Showing 1 of 3 runs")

	out, stdout, _ = testOutput(true)
	cmd = NewRunsCmd(clientFn, func() *Output { return out })
	cmd.SetArgs([]string{"nodes", "r1"})
	require.NoError(t, cmd.Execute())
	var nodeRuns []NodeRunResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &nodeRuns))
	require.Len(t, nodeRuns, 1)

	path := writeFile(t, "demo.yaml", demoWorkflow)
	out, _, stderr = testOutput(false)
	cmd = NewRunsCmd(clientFn, func() *Output { return out })
	cmd.SetArgs([]string{"submit", path, "--input", "user=ann"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stderr.String(), "Run queued: r2")
}

func TestOutput_RunResultPartial(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ok := domain.NewNodeRun(1, &domain.NodeSpec{ID: "start", Type: "trigger/manual"})
	ok.MarkRunning(start)
	ok.MarkSucceeded(start.Add(1500*time.Millisecond), nil)

	failed := domain.NewNodeRun(2, &domain.NodeSpec{ID: "call", Type: "action/http"})
	failed.MarkRunning(start)
	failed.MarkFailed(start.Add(time.Second), "status 500\nattempt 1: status 500")

	def := &domain.WorkflowDefinition{Name: "demo"}
	run := domain.NewRun(def, nil)
	run.MarkSucceeded()

	res := &engine.Result{
		Success: true,
		Summary: engine.Summary{StartTime: start, EndTime: start.Add(2 * time.Second), TotalUpdates: 2, TotalErrors: 1},
		Errors:  []engine.ErrorEntry{{NodeID: "call", Message: "status 500\nattempt 1: status 500", Timestamp: start}},
		Nodes:   []*domain.NodeRun{ok, failed},
	}

	out, stdout, stderr := testOutput(false)
	out.RunResult(run, res)

	assert.Contains(t, stdout.String(), "1.5s")
	assert.Contains(t, stdout.String(), "FAILED NODE")
	assert.Contains(t, stdout.String(), "status 500 …")
	assert.NotContains(t, stdout.String(), "attempt 1")
	assert.Contains(t, stderr.String(), "SUCCEEDED (partial), 2 node(s), 2 update(s), 1 error(s), 2s")

	out, stdout, stderr = testOutput(true)
	out.RunResult(run, res)
	assert.Empty(t, stderr.String())
	var decoded engine.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	assert.True(t, decoded.Partial())
}

func TestOutput_RunDetail(t *testing.T) {
	out, stdout, _ := testOutput(false)
	out.RunDetail(&RunResponse{
		ID:          "r1",
		Workflow:    "demo",
		Status:      "FAILED",
		TotalErrors: 1,
		DurationMs:  250,
		Error:       "boom",
		Context:     map[string]any{"start": 1, "call": 2},
	})

	text := stdout.String()
	assert.Contains(t, text, "Workflow: demo")
	assert.Contains(t, text, "Duration: 250ms")
	assert.Contains(t, text, "Context:  call, start")
	assert.NotContains(t, text, "Started")
}

func TestOutput_ValidationReport(t *testing.T) {
	out, _, stderr := testOutput(false)
	out.ValidationReport(api.ValidateResponse{Valid: true, Workflow: "loop", StartNodes: []string{"a", "b"}, HasCycle: true})
	assert.Contains(t, stderr.String(), `"loop" is valid, start nodes: a, b (contains cycles`)

	idx := 0
	out, stdout, _ := testOutput(false)
	out.ValidationReport(api.ValidateResponse{Issues: []api.ValidationIssue{{Connection: &idx, Field: "to", Message: "unknown node ghost"}}})
	assert.Contains(t, stdout.String(), "CONNECTION")
	assert.Contains(t, stdout.String(), "unknown node ghost")
}
