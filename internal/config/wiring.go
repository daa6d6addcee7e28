package config

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/nodes"
)

// llmTimeout — таймаут HTTP-клиента ChatAgent.
const llmTimeout = 2 * time.Minute

// NodeDependencies собирает зависимости встроенных узлов.
// db может быть nil: тогда action/db вернёт ErrNotConfigured.
func (c *Config) NodeDependencies(db nodes.Querier, logger *slog.Logger) nodes.Dependencies {
	deps := nodes.Dependencies{
		DB:         db,
		Logger:     logger,
		AgentModel: c.LLM.Model,
	}

	if c.SMTP.Addr != "" {
		deps.Mailer = nodes.NewSMTPMailer(nodes.SMTPConfig{
			Addr:     c.SMTP.Addr,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			From:     c.SMTP.From,
		})
	}

	if c.LLM.Enabled() {
		deps.Agent = nodes.NewChatAgent(c.LLM.BaseURL, c.LLM.APIKey, &http.Client{Timeout: llmTimeout})
	}

	return deps
}

// EngineOptions возвращает опции движка по умолчанию.
func (c *Config) EngineOptions(logger *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts: c.Engine.MaxAttempts,
			BaseDelay:   c.Engine.BaseDelay,
		}),
		engine.WithMaxSteps(c.Engine.MaxSteps),
		engine.WithLogger(logger),
	}
}

// MQConnection возвращает параметры соединения с RabbitMQ.
// После переподключения топология объявляется заново.
func (c *Config) MQConnection(logger *slog.Logger) mq.ConnectionConfig {
	return mq.ConnectionConfig{
		URL:         c.AMQP.URL,
		Logger:      logger,
		MinBackoff:  c.AMQP.ReconnectMin,
		MaxBackoff:  c.AMQP.ReconnectMax,
		OnReconnect: mq.DeclareTopology,
	}
}

// PublisherOptions возвращает опции mq.Publisher.
func (c *Config) PublisherOptions() []mq.PublisherOption {
	return []mq.PublisherOption{mq.WithReconnectWait(c.AMQP.PublishWait)}
}
