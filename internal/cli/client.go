package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
)

// --- Response types (дублируются из api/dto.go, клиент зависит только от JSON) ---

// RunResponse — запуск из API.
type RunResponse struct {
	ID           string         `json:"id"`
	Workflow     string         `json:"workflow"`
	Status       string         `json:"status"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	TotalUpdates int            `json:"total_updates"`
	TotalErrors  int            `json:"total_errors"`
	Error        string         `json:"error,omitempty"`
	StartedAt    string         `json:"started_at,omitempty"`
	FinishedAt   string         `json:"finished_at,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// NodeRunResponse — выполнение узла из API.
type NodeRunResponse struct {
	Seq        int            `json:"seq"`
	NodeID     string         `json:"node_id"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// RunAcceptedResponse — ответ на асинхронный запуск.
type RunAcceptedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type runResultResponse struct {
	Run RunResponse `json:"run"`
}

type graphResponse struct {
	Mermaid string `json:"mermaid"`
}

// --- Request types ---

// CreateRunRequest — запуск workflow.
type CreateRunRequest struct {
	Workflow *domain.WorkflowDefinition `json:"workflow"`
	Inputs   map[string]any             `json:"inputs,omitempty"`
}

// ListRunsOpts — параметры фильтрации запусков.
type ListRunsOpts struct {
	Workflow string
	Status   string
	Limit    int
	Offset   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			NodeID  string `json:"node_id"`
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    []string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// --- Client ---

// Client — HTTP-клиент для flowgraph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // синхронный запуск ждёт окончания workflow
		},
	}
}

// --- Runs ---

// ListRuns возвращает запуски с фильтрацией и общее количество.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, int, error) {
	params := url.Values{}
	if opts.Workflow != "" {
		params.Set("workflow", opts.Workflow)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	total, err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, total, err
}

// ExecuteRun выполняет workflow на сервере и ждёт результата.
func (c *Client) ExecuteRun(ctx context.Context, req CreateRunRequest) (*RunResponse, error) {
	var res runResultResponse
	if err := c.post(ctx, "/api/v1/runs", req, &res); err != nil {
		return nil, err
	}
	return &res.Run, nil
}

// SubmitRun ставит workflow в очередь.
func (c *Client) SubmitRun(ctx context.Context, req CreateRunRequest) (*RunAcceptedResponse, error) {
	var accepted RunAcceptedResponse
	if err := c.post(ctx, "/api/v1/runs?async=true", req, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// GetRun возвращает запуск по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRunNodes возвращает выполнения узлов запуска.
func (c *Client) ListRunNodes(ctx context.Context, id string) ([]NodeRunResponse, error) {
	var nodes []NodeRunResponse
	_, err := c.list(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/nodes", nil, &nodes)
	return nodes, err
}

// RunGraph возвращает Mermaid-диаграмму запуска.
func (c *Client) RunGraph(ctx context.Context, id string) (string, error) {
	var graph graphResponse
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/graph", &graph); err != nil {
		return "", err
	}
	return graph.Mermaid, nil
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) (int, error) {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return 0, err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return lr.Total, json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return apiErr
	}

	apiErr.Code = er.Error.Code
	apiErr.Message = er.Error.Message
	for _, d := range er.Error.Details {
		switch {
		case d.NodeID != "":
			apiErr.Details = append(apiErr.Details, d.NodeID+": "+d.Message)
		default:
			apiErr.Details = append(apiErr.Details, d.Message)
		}
	}
	return apiErr
}
