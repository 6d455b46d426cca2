package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/queuecast/queuecast/adapter/cli"
	"github.com/queuecast/queuecast/internal/app"
	"github.com/queuecast/queuecast/pkg/config"
	"github.com/queuecast/queuecast/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	logger.Info("starting queuecast worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := cli.RunWorker(ctx, container); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}
