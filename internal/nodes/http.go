package nodes

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

const (
	// TypeHTTP — тип узла HTTP запроса.
	TypeHTTP = "action/http"

	defaultHTTPTimeoutSec = 10
	maxResponseBody       = 10 * 1024 * 1024 // 10 MB
)

// HTTPNode — узел HTTP запроса.
//
// Выполняет запрос к внешнему API. Шаблоны {{ }} в конфигурации
// подставляются из контекста запуска.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/users/{{user.id}}",
//	    "headers": {"Authorization": "Bearer {{auth.token}}"},
//	    "params": {"page": 1},
//	    "body": {"name": "{{user.name}}"},
//	    "timeout": 10,
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "fail_on_status": false
//	}
//
// Outputs:
//
//	{
//	    "status": 200,
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json"},
//	    "body": {...}  // JSON или строка
//	}
type HTTPNode struct {
	client *http.Client
}

// NewHTTPNode создаёт HTTPNode.
// Если deps.HTTPClient задан, он используется для всех запросов.
func NewHTTPNode(deps Dependencies) *HTTPNode {
	return &HTTPNode{client: deps.HTTPClient}
}

// Type возвращает тип узла.
func (n *HTTPNode) Type() string { return TypeHTTP }

// httpConfig — конфигурация HTTP узла.
type httpConfig struct {
	URL             string            `mapstructure:"url" validate:"required"`
	Method          string            `mapstructure:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS get post put patch delete head options"`
	Headers         map[string]string `mapstructure:"headers"`
	Params          map[string]any    `mapstructure:"params"`
	Body            any               `mapstructure:"body"`
	Timeout         int               `mapstructure:"timeout" validate:"gte=0"`
	FollowRedirects bool              `mapstructure:"follow_redirects"`
	ValidateSSL     bool              `mapstructure:"validate_ssl"`
	FailOnStatus    bool              `mapstructure:"fail_on_status"`
}

// ValidateConfig проверяет конфигурацию при валидации определения.
func (n *HTTPNode) ValidateConfig(node *domain.NodeSpec) error {
	_, err := n.parseConfig(node.Config)
	return err
}

// Execute выполняет HTTP запрос.
func (n *HTTPNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	cfg, err := n.parseConfig(engine.ResolveConfig(node.Config, data))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	req, err := n.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := n.buildClient(cfg).Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrNodeCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	outputs, err := n.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       fmt.Sprint(outputs["body"]),
		}
	}

	return outputs, nil
}

// parseConfig раскладывает конфигурацию и заполняет значения по умолчанию.
func (n *HTTPNode) parseConfig(config map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          http.MethodGet,
		Timeout:         defaultHTTPTimeoutSec,
		FollowRedirects: true,
		ValidateSSL:     true,
	}
	if err := decodeConfig(TypeHTTP, config, cfg); err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeoutSec
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

// buildClient возвращает клиент с нужными настройками.
func (n *HTTPNode) buildClient(cfg *httpConfig) *http.Client {
	if n.client != nil {
		return n.client
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.ValidateSSL, //nolint:gosec // управляется конфигурацией узла
			},
		},
	}
}

// buildRequest создаёт HTTP запрос.
func (n *HTTPNode) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	if len(cfg.Params) > 0 {
		query := target.Query()
		for key, value := range cfg.Params {
			query.Set(key, engine.FormatValue(value))
		}
		target.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// serializeBody сериализует body в bytes.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse преобразует HTTP ответ в результат узла.
func (n *HTTPNode) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any = string(bodyBytes)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed any
		if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status":      resp.StatusCode,
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}

// HTTPError — ответ с кодом ошибки при fail_on_status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
