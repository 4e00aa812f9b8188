package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"stacks/internal/admission"
	"stacks/internal/budget"
	"stacks/internal/catalog"
	"stacks/internal/completion"
	"stacks/internal/config"
	"stacks/internal/download"
	"stacks/internal/engine"
	"stacks/internal/gapdetect"
	"stacks/internal/importer"
	"stacks/internal/logging"
	"stacks/internal/notifications"
	"stacks/internal/pipeline"
	"stacks/internal/queue"
)

// commandContext lazily loads configuration and constructs shared services
// for CLI commands. Construction happens once per process invocation.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	cfg        *config.Config
	cfgPath    string
	cfgErr     error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		cfg, resolvedPath, exists, err := config.Load(path)
		if err != nil {
			c.cfgErr = err
			return
		}
		if !exists {
			c.cfgErr = fmt.Errorf("no configuration file found at %s (run 'stacks config init')", resolvedPath)
			return
		}
		c.cfg = cfg
		c.cfgPath = resolvedPath
	})
	return c.cfg, c.cfgErr
}

func (c *commandContext) configPath() (string, error) {
	if _, err := c.ensureConfig(); err != nil {
		return "", err
	}
	return c.cfgPath, nil
}

// ensureLogger returns a quiet logger for interactive commands. Command
// output goes to stdout; only warnings and errors from the services leak
// through to stderr.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		c.logger, c.loggerErr = logging.New(logging.Options{
			Level:            "warn",
			Format:           "console",
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

// services bundles everything a command needs beyond the bare store.
type cliServices struct {
	cfg        *config.Config
	store      *queue.Store
	controller *pipeline.Controller
	budget     *budget.Controller
	completion *completion.Coordinator
	notifier   notifications.Service
}

func (s *cliServices) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// buildServices wires the full pipeline the same way the daemon does, so CLI
// cycle and cancel commands operate on identical semantics.
func (c *commandContext) buildServices(ctx context.Context) (*cliServices, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, err
	}

	deps, err := buildPipelineDeps(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	controller, err := pipeline.New(*deps)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &cliServices{
		cfg:        cfg,
		store:      store,
		controller: controller,
		budget:     deps.Budget,
		completion: deps.Completion,
		notifier:   deps.Notifier,
	}, nil
}

// buildPipelineDeps constructs the real external clients and controllers.
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
