// flowgraph-api — HTTP API движка.
//
// Выполняет workflow синхронно, ставит асинхронные запуски в очередь
// RabbitMQ и отдаёт журнал запусков из PostgreSQL.
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

	"github.com/shaiso/flowgraph/internal/api"
	"github.com/shaiso/flowgraph/internal/config"
	"github.com/shaiso/flowgraph/internal/engine"
	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/nodes"
	"github.com/shaiso/flowgraph/internal/repo"
	"github.com/shaiso/flowgraph/internal/runner"
	"github.com/shaiso/flowgraph/internal/telemetry"
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
	logger.Info("starting flowgraph-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
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
	logger.Info("connected to database")

	// RabbitMQ опционален: без него недоступны ?async=true и события run.completed
	var events runner.EventPublisher
	var submitter api.Submitter

	mqConn, err := mq.NewConnection(cfg.MQConnection(logger))
	if err != nil {
		logger.Warn("RabbitMQ not available, async runs disabled", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher := mq.NewPublisher(mqConn, logger, cfg.PublisherOptions()...)
		events = publisher
		submitter = runner.NewQueueSubmitter(publisher, "api")
		logger.Info("RabbitMQ connected")
	}

	metrics := telemetry.NewMetrics(nil)

	service := runner.New(runner.Config{
		Registry:      nodes.DefaultRegistry(cfg.NodeDependencies(pool, logger)),
		Store:         repo.NewRunRepo(pool),
		Events:        events,
		Observers:     []engine.Observer{metrics},
		EngineOptions: cfg.EngineOptions(logger),
		Logger:        logger,
	})

	handler := api.NewHandler(api.Config{
		Service:   service,
		Submitter: submitter,
		Ready:     pool.Ping,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", "active_runs", service.Active())

	// Graceful shutdown: синхронные запуски успевают завершиться
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
