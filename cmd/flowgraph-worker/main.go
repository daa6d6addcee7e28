// flowgraph-worker — выполняет запуски из очереди.
//
// Worker:
//   - Получает run.requested из RabbitMQ
//   - Выполняет workflow целиком в процессе
//   - Записывает журнал в PostgreSQL и публикует run.completed
//
// Workers масштабируются горизонтально: каждый запуск выполняет один worker.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowgraph/internal/config"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/nodes"
	"github.com/shaiso/flowgraph/internal/repo"
	"github.com/shaiso/flowgraph/internal/runner"
	"github.com/shaiso/flowgraph/internal/telemetry"
	"github.com/shaiso/flowgraph/internal/worker"
)

func main() {
	configFile := flag.String("config", "", "YAML config file")
	flag.Parse()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		telemetry.SetupLogger("INFO", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting flowgraph-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.MQConnection(logger))
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected")

	service := runner.New(runner.Config{
		Registry:      nodes.DefaultRegistry(cfg.NodeDependencies(pool, logger)),
		Store:         repo.NewRunRepo(pool),
		Events:        mq.NewPublisher(mqConn, logger, cfg.PublisherOptions()...),
		Observers:     []engine.Observer{telemetry.NewMetrics(nil)},
		EngineOptions: cfg.EngineOptions(logger),
		Logger:        logger,
	})

	w := worker.New(worker.Config{
		Conn:     mqConn,
		Runner:   service,
		Prefetch: cfg.Worker.Prefetch,
		Logger:   logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	if cfg.Worker.Port > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
			if !mqConn.IsConnected() {
				http.Error(rw, "amqp disconnected", http.StatusServiceUnavailable)
				return
			}
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{Addr: config.MetricsAddr(cfg.Worker.Port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
				cancel()
			}
		}()
		defer server.Close()
	}

	<-ctx.Done()

	w.Stop()
	logger.Info("flowgraph-worker stopped")
}
