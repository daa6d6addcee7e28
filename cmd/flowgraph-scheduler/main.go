// flowgraph-scheduler — запускает workflow по расписаниям.
//
// Расписания читаются из YAML (SCHEDULE_FILE), запуски ставятся
// в очередь RabbitMQ. Работает только один экземпляр: лидер удерживает
// advisory lock в PostgreSQL, остальные ждут.
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
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowgraph/internal/config"
	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/repo"
	"github.com/shaiso/flowgraph/internal/runner"
	"github.com/shaiso/flowgraph/internal/scheduler"
	"github.com/shaiso/flowgraph/internal/telemetry"
)

const leaderPollInterval = 5 * time.Second

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
	logger.Info("starting flowgraph-scheduler")

	if cfg.Scheduler.File == "" {
		logger.Error("SCHEDULE_FILE is not set")
		os.Exit(1)
	}
	schedules, err := scheduler.LoadFile(cfg.Scheduler.File)
	if err != nil {
		logger.Error("failed to load schedules", "file", cfg.Scheduler.File, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool для выбора лидера
	pool, err := repo.NewPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

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

	sched := scheduler.New(scheduler.Config{
		Submitter: runner.NewQueueSubmitter(mq.NewPublisher(mqConn, logger, cfg.PublisherOptions()...), "scheduler"),
		Logger:    logger,
	})
	for _, s := range schedules {
		if err := sched.Add(s); err != nil {
			logger.Error("failed to add schedule", "schedule", s.Name, "error", err)
			os.Exit(1)
		}
	}

	// HTTP mux: /healthz + /metrics
	if cfg.Scheduler.Port > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{Addr: config.MetricsAddr(cfg.Scheduler.Port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
				cancel()
			}
		}()
		defer server.Close()
	}

	// Становимся лидером
	logger.Info("waiting for leader lock")
	lock, err := repo.AcquireLeaderLock(ctx, pool, repo.SchedulerLockKey, leaderPollInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("flowgraph-scheduler stopped")
			return
		}
		logger.Error("failed to acquire leader lock", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()
	logger.Info("acquired leader lock", "schedules", len(schedules))

	_ = sched.Run(ctx)
	logger.Info("flowgraph-scheduler stopped")
}
