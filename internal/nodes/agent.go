package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

const (
	// TypeAgent — тип узла LLM-агента.
	TypeAgent = "action/ai_agent"

	defaultAgentModel        = "deepseek-chat"
	defaultAgentSystemPrompt = "You are a helpful assistant."
	defaultAgentTimeout      = 120 * time.Second

	// agentOutputKey — имя переменной ответа в шаблонах outputMapping.
	agentOutputKey = "aiOutput"
)

// ErrEmptyCompletion — LLM вернул ответ без сообщений.
var ErrEmptyCompletion = errors.New("empty completion")

// AgentRequest — запрос к агенту.
type AgentRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
}

// Agent получает промпт и возвращает итоговый текст.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) (string, error)
}

// AgentFunc — функция, реализующая Agent.
type AgentFunc func(ctx context.Context, req AgentRequest) (string, error)

// Run вызывает функцию.
func (f AgentFunc) Run(ctx context.Context, req AgentRequest) (string, error) {
	return f(ctx, req)
}

// ChatAgent — клиент OpenAI-совместимого chat completions API.
type ChatAgent struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewChatAgent создаёт ChatAgent.
func NewChatAgent(baseURL, apiKey string, client *http.Client) *ChatAgent {
	if client == nil {
		client = &http.Client{Timeout: defaultAgentTimeout}
	}
	return &ChatAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run отправляет промпт и возвращает текст первого ответа.
func (a *ChatAgent) Run(ctx context.Context, req AgentRequest) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response (HTTP %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completion: %s", parsed.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &HTTPError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: string(body)}
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

// AgentNode — узел LLM-агента.
//
// Конфигурация:
//
//	{
//	    "prompt": "Summarize: {{fetch.body}}",
//	    "model": "deepseek-chat",
//	    "system_prompt": "...",
//	    "base_url": "https://api.deepseek.com/v1",
//	    "openai_api_key": "...",
//	    "outputMapping": {"summary": "{{aiOutput}}"}
//	}
//
// Если в конфигурации заданы openai_api_key и base_url, узел создаёт собственный
// ChatAgent, иначе использует агента из Dependencies.
//
// Outputs:
//
//	{"ai_output": "...", "summary": "..."}
type AgentNode struct {
	agent  Agent
	model  string
	client *http.Client
}

// NewAgentNode создаёт AgentNode.
func NewAgentNode(deps Dependencies) *AgentNode {
	model := deps.AgentModel
	if model == "" {
		model = defaultAgentModel
	}
	return &AgentNode{agent: deps.Agent, model: model, client: deps.HTTPClient}
}

// Type возвращает тип узла.
func (n *AgentNode) Type() string { return TypeAgent }

type agentConfig struct {
	Prompt        string            `mapstructure:"prompt" validate:"required"`
	Model         string            `mapstructure:"model"`
	SystemPrompt  string            `mapstructure:"system_prompt"`
	BaseURL       string            `mapstructure:"base_url"`
	APIKey        string            `mapstructure:"openai_api_key"`
	OutputMapping map[string]string `mapstructure:"outputMapping"`
}

// ValidateConfig проверяет конфигурацию при валидации определения.
func (n *AgentNode) ValidateConfig(node *domain.NodeSpec) error {
	var cfg agentConfig
	return decodeConfig(TypeAgent, node.Config, &cfg)
}

// Execute выполняет запрос к агенту.
func (n *AgentNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	cfg := agentConfig{
		Model:        n.model,
		SystemPrompt: defaultAgentSystemPrompt,
	}

	// outputMapping рендерится по ответу агента, а не по контексту
	raw := make(map[string]any, len(node.Config))
	for k, v := range node.Config {
		if k != "outputMapping" {
			raw[k] = v
		}
	}
	resolved := engine.ResolveConfig(raw, data)
	resolved["outputMapping"] = node.Config["outputMapping"]

	if err := decodeConfig(TypeAgent, resolved, &cfg); err != nil {
		return nil, err
	}

	agent := n.agent
	if cfg.APIKey != "" && cfg.BaseURL != "" {
		agent = NewChatAgent(cfg.BaseURL, cfg.APIKey, n.client)
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: %s: llm agent", ErrNotConfigured, TypeAgent)
	}

	output, err := agent.Run(ctx, AgentRequest{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Prompt:       cfg.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("ai agent failed: %w", err)
	}

	result := map[string]any{"ai_output": output}
	scope := map[string]any{agentOutputKey: output}
	for key, tmpl := range cfg.OutputMapping {
		result[key] = engine.ResolveTemplate(tmpl, scope)
	}
	return result, nil
}
