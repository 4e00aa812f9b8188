package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stacks/internal/config"
	"stacks/internal/httpapi"
	"stacks/internal/logging"
	"stacks/internal/pipeline"
	"stacks/internal/queue"
)

// Daemon owns the long-running stacks process: single-instance locking, the
// periodic control loop, and the status HTTP API.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	controller *pipeline.Controller
	api        *httpapi.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	server  *http.Server
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, controller *pipeline.Controller, api *httpapi.Server) (*Daemon, error) {
	if cfg == nil || store == nil || controller == nil {
		return nil, errors.New("daemon requires config, store, and pipeline controller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "stacksd.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		controller: controller,
		api:        api,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, reconciles in-flight state, and launches
// the control loop and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stacks daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.controller.Reconcile(runCtx); err != nil {
		d.logger.Warn("startup reconciliation failed", logging.Error(err))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLoop(runCtx)
	}()

	if d.api != nil && d.cfg.Paths.APIBind != "" {
		d.server = &http.Server{
			Addr:              d.cfg.Paths.APIBind,
			Handler:           d.api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.logger.Info("status API listening", logging.String("bind", d.cfg.Paths.APIBind))
			if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("status API server failed", logging.Error(err))
			}
		}()
	}

	d.running.Store(true)
	d.logger.Info("stacks daemon started", logging.String("lock", d.lockPath))
	return nil
}

// runLoop executes control cycles on the configured interval. A failed cycle
// reschedules on the shorter error retry interval.
func (d *Daemon) runLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.CycleInterval) * time.Second
	errorInterval := time.Duration(d.cfg.Workflow.ErrorRetryInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if errorInterval <= 0 || errorInterval > interval {
		errorInterval = interval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := interval
		if _, err := d.controller.RunCycle(ctx, 0); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("control cycle failed", logging.Error(err))
			next = errorInterval
		}
		timer.Reset(next)
	}
}

// Stop halts the control loop, shuts down the HTTP API, and releases the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("status API shutdown", logging.Error(err))
		}
		cancel()
		d.server = nil
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("stacks daemon stopped")
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the control loop is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}
