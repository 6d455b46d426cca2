package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/queuecast/queuecast/adapter/cli"
	"github.com/queuecast/queuecast/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	cli.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cli.ExecuteContext(ctx)
}
