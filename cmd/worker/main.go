package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jo-hoe/cardscan/internal/core"
	"github.com/jo-hoe/cardscan/internal/logger"
)

func getConfigPath() string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

// The worker only consumes a shared queue. It needs the redis queue and a
// database reachable by the server that enqueued the cards.
func main() {
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Init(config.Log)

	if config.Queue.Type != "redis" {
		slog.Error("worker requires a shared queue", "queue_type", config.Queue.Type)
		os.Exit(1)
	}

	coreService, err := core.NewCoreService(config)
	if err != nil {
		slog.Error("failed to create core service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coreService.StartWorkers(ctx)
	slog.Info("worker started", "workers", config.Queue.Workers)

	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight cards")

	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
}
