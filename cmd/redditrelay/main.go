package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"RedditRelay/internal/app"
	"RedditRelay/internal/config"
	"RedditRelay/internal/logging"
)

func main() {
	os.Exit(run())
}

// run returns 0 once the batch completes, even if single items failed,
// and 1 on configuration, connection, schema or fetch errors.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close resources", "error", err)
		}
	}()

	if _, err := application.Run(ctx); err != nil {
		logger.Error("run aborted", "error", err)
		return 1
	}
	return 0
}
