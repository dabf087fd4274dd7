package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"recall/backend/internal/app"
	"recall/backend/internal/config"
	"recall/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, closeLog := logger.Setup(logger.ParseLevel(cfg.LogLevel), cfg.LogFile)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	closeLog()
	if err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run bootstraps infrastructure and serves until ctx is canceled.
func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, nil)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer application.Close()

	return application.Run(ctx)
}
