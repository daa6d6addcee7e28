package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Email

type recordingMailer struct {
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, email Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func TestEmailNode_Execute(t *testing.T) {
	mailer := &recordingMailer{}
	deps := testDeps()
	deps.Mailer = mailer

	out, err := NewEmailNode(deps).Execute(context.Background(), node("mail", TypeEmail, map[string]any{
		"to":      "{{user.email}}",
		"subject": "Hello, {{user.name}}",
		"body":    "Your order {{order.id}} is ready",
	}), map[string]any{
		"user":  map[string]any{"email": "ann@example.com", "name": "Ann"},
		"order": map[string]any{"id": 7},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"email_sent": true,
		"to":         "ann@example.com",
		"subject":    "Hello, Ann",
		"timestamp":  fixedNow.Format(time.RFC3339Nano),
	}, out)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Your order 7 is ready", mailer.sent[0].Body)
}

func TestEmailNode_Errors(t *testing.T) {
	deps := testDeps()
	deps.Mailer = &recordingMailer{err: errors.New("smtp down")}
	n := NewEmailNode(deps)

	_, err := n.Execute(context.Background(), node("mail", TypeEmail, map[string]any{"to": "a@b.c"}), nil)
	assert.ErrorContains(t, err, "smtp down")

	err = n.ValidateConfig(node("mail", TypeEmail, map[string]any{"subject": "x"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSMTPMailer_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	m := NewSMTPMailer(SMTPConfig{Addr: "mail.local:25", From: "bot@example.com"})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), Email{To: "a@example.com, b@example.com", Subject: "Hi", Body: "text"})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:25", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Hi\r\n")
	assert.Contains(t, string(gotMsg), "\r\n\r\ntext")
}

// Database

type fakeRows struct {
	fields []pgconn.FieldDescription
	values [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	return errors.New("not supported")
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.pos-1], nil
}

type fakeQuerier struct {
	sql  string
	args []any
	rows *fakeRows
	tag  string
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql, q.args = sql, args
	return pgconn.NewCommandTag(q.tag), nil
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	return q.rows, nil
}

func TestDBNode_Insert(t *testing.T) {
	q := &fakeQuerier{tag: "INSERT 0 1"}

	out, err := NewDBNode(Dependencies{DB: q}).Execute(context.Background(), node("save", TypeDB, map[string]any{
		"operation": "insert",
		"table":     "users",
		"data":      map[string]any{"name": "{{user.name}}", "age": "{{user.age}}"},
	}), map[string]any{"user": map[string]any{"name": "Ann", "age": 30}})
	require.NoError(t, err)

	assert.Equal(t, `INSERT INTO "users" ("age", "name") VALUES ($1, $2)`, q.sql)
	assert.Equal(t, []any{30, "Ann"}, q.args)
	assert.Equal(t, "insert", out["db_operation"])
	assert.Equal(t, 1, out["affected_rows"])
}

func TestDBNode_Select(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}},
		values: [][]any{{int64(1), "Ann"}, {int64(2), "Bob"}},
	}}

	out, err := NewDBNode(Dependencies{DB: q}).Execute(context.Background(), node("load", TypeDB, map[string]any{
		"table":   "public.users",
		"columns": []any{"id", "name"},
		"where":   map[string]any{"active": true},
		"limit":   10,
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "id", "name" FROM "public"."users" WHERE "active" = $1 LIMIT 10`, q.sql)
	assert.Equal(t, []any{true}, q.args)
	assert.Equal(t, 2, out["affected_rows"])
	assert.Equal(t, []any{
		map[string]any{"id": int64(1), "name": "Ann"},
		map[string]any{"id": int64(2), "name": "Bob"},
	}, out["rows"])
}

func TestDBNode_UpdateDelete(t *testing.T) {
	q := &fakeQuerier{tag: "UPDATE 3"}
	n := NewDBNode(Dependencies{DB: q})

	out, err := n.Execute(context.Background(), node("upd", TypeDB, map[string]any{
		"operation": "update",
		"table":     "users",
		"data":      map[string]any{"status": "active"},
		"where":     map[string]any{"id": 5},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "status" = $1 WHERE "id" = $2`, q.sql)
	assert.Equal(t, []any{"active", 5}, q.args)
	assert.Equal(t, 3, out["affected_rows"])

	q.tag = "DELETE 1"
	_, err = n.Execute(context.Background(), node("del", TypeDB, map[string]any{
		"operation": "delete",
		"table":     "users",
		"where":     map[string]any{"id": 5},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" = $1`, q.sql)
}

func TestDBNode_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{name: "missing table", config: map[string]any{"operation": "select"}},
		{name: "unknown operation", config: map[string]any{"operation": "drop", "table": "t"}},
		{name: "insert without data", config: map[string]any{"operation": "insert", "table": "t"}},
		{name: "delete without where", config: map[string]any{"operation": "delete", "table": "t"}},
	}

	n := NewDBNode(Dependencies{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, n.ValidateConfig(node("db", TypeDB, tt.config)), ErrInvalidConfig)
		})
	}
}

func TestDBNode_NotConfigured(t *testing.T) {
	_, err := NewDBNode(Dependencies{}).Execute(context.Background(), node("db", TypeDB, map[string]any{"table": "t"}), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// AI agent

func TestAgentNode_InjectedAgent(t *testing.T) {
	var got AgentRequest
	deps := testDeps()
	deps.Agent = AgentFunc(func(_ context.Context, req AgentRequest) (string, error) {
		got = req
		return "short summary", nil
	})

	out, err := NewAgentNode(deps).Execute(context.Background(), node("ai", TypeAgent, map[string]any{
		"prompt":        "Summarize: {{article.text}}",
		"outputMapping": map[string]any{"summary": "Summary: {{aiOutput}}"},
	}), map[string]any{"article": map[string]any{"text": "long text"}})
	require.NoError(t, err)

	assert.Equal(t, "Summarize: long text", got.Prompt)
	assert.Equal(t, defaultAgentModel, got.Model)
	assert.Equal(t, defaultAgentSystemPrompt, got.SystemPrompt)
	assert.Equal(t, map[string]any{
		"ai_output": "short summary",
		"summary":   "Summary: short summary",
	}, out)
}

func TestAgentNode_ChatAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "ping", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer server.Close()

	out, err := NewAgentNode(Dependencies{}).Execute(context.Background(), node("ai", TypeAgent, map[string]any{
		"prompt":         "ping",
		"model":          "test-model",
		"base_url":       server.URL + "/v1/",
		"openai_api_key": "key",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", out["ai_output"])
}

func TestChatAgent_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			_, _ = w.Write([]byte(`{"choices":[]}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	_, err := NewChatAgent(server.URL, "bad", nil).Run(context.Background(), AgentRequest{Prompt: "x"})
	assert.ErrorContains(t, err, "invalid api key")

	_, err = NewChatAgent(server.URL, "", nil).Run(context.Background(), AgentRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestAgentNode_NotConfigured(t *testing.T) {
	_, err := NewAgentNode(Dependencies{}).Execute(context.Background(), node("ai", TypeAgent, map[string]any{"prompt": "x"}), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = NewAgentNode(Dependencies{}).ValidateConfig(node("ai", TypeAgent, map[string]any{}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// Delay

func TestDelayNode_Execute(t *testing.T) {
	start := time.Now()
	out, err := NewDelayNode().Execute(context.Background(), node("wait", TypeDelay, map[string]any{"duration_ms": 20}), nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(20), out["duration_ms"])
}

func TestDelayNode_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewDelayNode().Execute(ctx, node("wait", TypeDelay, map[string]any{"duration_sec": 5}), nil)
	assert.ErrorIs(t, err, ErrNodeCancelled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDelayNode_InvalidConfig(t *testing.T) {
	n := NewDelayNode()
	_, err := n.Execute(context.Background(), node("wait", TypeDelay, map[string]any{}), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, n.ValidateConfig(node("wait", TypeDelay, nil)), ErrInvalidConfig)
}
