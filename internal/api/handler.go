package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/runner"
)

// Ограничения запросов.
const (
	maxBodyBytes  = 4 << 20
	healthTimeout = 2 * time.Second
)

// Submitter ставит запуск в очередь. Реализация: *runner.QueueSubmitter.
type Submitter interface {
	Submit(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any) (uuid.UUID, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	service   *runner.Service
	submitter Submitter
	ready     func(ctx context.Context) error
	gatherer  prometheus.Gatherer
	metrics   *httpMetrics
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	// Service выполняет синхронные запуски и отдаёт журнал.
	Service *runner.Service

	// Submitter — очередь для ?async=true. Если nil, асинхронный запуск недоступен.
	Submitter Submitter

	// Ready — проверка зависимостей для /healthz (например, ping БД).
	Ready func(ctx context.Context) error

	// Registerer и Gatherer — реестр метрик. По умолчанию глобальный.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		service:   cfg.Service,
		submitter: cfg.Submitter,
		ready:     cfg.Ready,
		gatherer:  gatherer,
		metrics:   newHTTPMetrics(reg),
		logger:    logger,
	}
}
