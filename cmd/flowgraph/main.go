// flowgraph — инструмент командной строки.
//
// Локальные команды выполняют определение из файла в процессе CLI,
// группа runs работает с API сервером.
//
// Использование:
//
//	flowgraph [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	run       Выполнить workflow локально
//	validate  Проверить определение
//	graph     Mermaid-диаграмма определения
//	schedule  Выполнять workflow по расписанию
//	runs      Журнал запусков на сервере
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowgraph/internal/cli"
	"github.com/shaiso/flowgraph/internal/config"
	"github.com/shaiso/flowgraph/internal/nodes"
	"github.com/shaiso/flowgraph/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var configFile string
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "flowgraph",
		Short:         "flowgraph — directed-graph workflow engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultAPI := os.Getenv("API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultAPI, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file (default ./.env if present)")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	localFn := func() (*cli.Local, error) {
		var opts []config.Option
		if configFile != "" {
			opts = append(opts, config.WithConfigFile(configFile))
		}
		if envFile != "" {
			opts = append(opts, config.WithEnvFile(envFile))
		}
		cfg, err := config.Load(opts...)
		if err != nil {
			return nil, err
		}

		// Логи в stderr, stdout остаётся для данных
		logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, "text")

		return &cli.Local{
			Registry:      nodes.DefaultRegistry(cfg.NodeDependencies(nil, logger)),
			EngineOptions: cfg.EngineOptions(logger),
			Logger:        logger,
		}, nil
	}

	rootCmd.AddCommand(
		cli.NewRunCmd(localFn, outputFn),
		cli.NewValidateCmd(localFn, outputFn),
		cli.NewGraphCmd(outputFn),
		cli.NewScheduleCmd(localFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
