package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// TypeEmail — тип узла отправки письма.
const TypeEmail = "action/email"

// Email — письмо для отправки.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer — отправщик писем.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer пишет письма в лог вместо отправки.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send логирует письмо.
func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.logger.InfoContext(ctx, "email sent",
		"to", email.To,
		"subject", email.Subject,
		"body_size", len(email.Body),
	)
	return nil
}

// SMTPConfig — параметры SMTP сервера.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer создаёт SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send отправляет письмо.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNodeCancelled, err)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	recipients := splitRecipients(email.To)
	if err := m.send(m.cfg.Addr, auth, m.cfg.From, recipients, buildMessage(m.cfg.From, recipients, email)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildMessage формирует RFC 822 сообщение.
func buildMessage(from string, to []string, email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.Body)
	return []byte(b.String())
}

// splitRecipients разбивает список адресов через запятую.
func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EmailNode — узел отправки письма.
//
// Конфигурация:
//
//	{
//	    "to": "{{user.email}}",
//	    "subject": "Welcome, {{user.name}}",
//	    "body": "..."
//	}
//
// Outputs:
//
//	{"email_sent": true, "to": "...", "subject": "...", "timestamp": "..."}
type EmailNode struct {
	mailer Mailer
	now    func() time.Time
}

// NewEmailNode создаёт EmailNode.
func NewEmailNode(deps Dependencies) *EmailNode {
	deps = deps.withDefaults()
	return &EmailNode{mailer: deps.Mailer, now: deps.Now}
}

// Type возвращает тип узла.
func (n *EmailNode) Type() string { return TypeEmail }

type emailConfig struct {
	To      string `mapstructure:"to" validate:"required"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

// ValidateConfig проверяет конфигурацию при валидации определения.
func (n *EmailNode) ValidateConfig(node *domain.NodeSpec) error {
	var cfg emailConfig
	return decodeConfig(TypeEmail, node.Config, &cfg)
}

// Execute отправляет письмо.
func (n *EmailNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	var cfg emailConfig
	if err := decodeConfig(TypeEmail, engine.ResolveConfig(node.Config, data), &cfg); err != nil {
		return nil, err
	}

	email := Email{To: cfg.To, Subject: cfg.Subject, Body: cfg.Body}
	if err := n.mailer.Send(ctx, email); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	return map[string]any{
		"email_sent": true,
		"to":         cfg.To,
		"subject":    cfg.Subject,
		"timestamp":  timestamp(n.now),
	}, nil
}
