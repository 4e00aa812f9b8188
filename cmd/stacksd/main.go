package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"stacks/internal/config"
	"stacks/internal/daemon"
	"stacks/internal/httpapi"
	"stacks/internal/logging"
	"stacks/internal/queue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	d, err := buildDaemon(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("stacksd shutting down")
}

func buildDaemon(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	deps, err := buildPipelineDeps(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	controller, err := newPipelineController(deps)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(store, deps.Budget, logger)
	return daemon.New(cfg, store, logger, controller, api)
}
