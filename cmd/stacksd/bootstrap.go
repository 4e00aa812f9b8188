package main

import (
	"context"
	"fmt"
	"log/slog"

	"stacks/internal/admission"
	"stacks/internal/budget"
	"stacks/internal/catalog"
	"stacks/internal/completion"
	"stacks/internal/config"
	"stacks/internal/download"
	"stacks/internal/engine"
	"stacks/internal/gapdetect"
	"stacks/internal/importer"
	"stacks/internal/notifications"
	"stacks/internal/pipeline"
	"stacks/internal/queue"
)

// buildPipelineDeps constructs the external clients and controllers for the
// daemon's control loop.
func buildPipelineDeps(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*pipeline.Deps, error) {
	engineClient, err := engine.New(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("engine client: %w", err)
	}
	importClient, err := importer.New(cfg.Importer)
	if err != nil {
		return nil, fmt.Errorf("importer client: %w", err)
	}

	notifier := notifications.NewService(cfg.Notifications)
	budgetController := budget.New(store, cfg.Budget, notifier, logger)
	admissionController, err := admission.New(ctx, store, cfg.Admission, budgetController, logger)
	if err != nil {
		return nil, fmt.Errorf("admission controller: %w", err)
	}
	downloadManager := download.New(store, engineClient, cfg.Download, logger)
	coordinator := completion.New(store, importClient, admissionController, notifier, logger)

	deps := &pipeline.Deps{
		Config:     cfg,
		Store:      store,
		Admission:  admissionController,
		Budget:     budgetController,
		Downloads:  downloadManager,
		Completion: coordinator,
		Notifier:   notifier,
		Logger:     logger,
	}

	// Gap detection is optional: without a catalog the daemon still drains
	// whatever is already queued.
	if cfg.Catalog.BaseURL != "" {
		catalogClient, err := catalog.New(cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("catalog client: %w", err)
		}
		deps.Detector = gapdetect.New(catalogClient, logger)
		deps.Library = importClient
	}

	return deps, nil
}

func newPipelineController(deps *pipeline.Deps) (*pipeline.Controller, error) {
	return pipeline.New(*deps)
}
