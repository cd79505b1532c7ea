// Package app wires every component into one explicitly constructed
// object graph (spec §9 Design Notes: "explicit constructed objects,
// not global singletons"). Grounded on the teacher's internal/app.App
// struct (config + logger + storage + services assembled in one
// constructor), generalized from a single-store crawler app to the
// full C1-C11 dispatcher pipeline.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/browser"
	"github.com/fossawork/dispatcher/internal/config"
	"github.com/fossawork/dispatcher/internal/driver"
	"github.com/fossawork/dispatcher/internal/formengine"
	"github.com/fossawork/dispatcher/internal/progress"
	"github.com/fossawork/dispatcher/internal/queue"
	"github.com/fossawork/dispatcher/internal/recovery"
	"github.com/fossawork/dispatcher/internal/repository"
	"github.com/fossawork/dispatcher/internal/resources"
	"github.com/fossawork/dispatcher/internal/scheduler"
	"github.com/fossawork/dispatcher/internal/scraper"
	"github.com/fossawork/dispatcher/internal/storage/badger"
	"github.com/fossawork/dispatcher/internal/vault"
)

// App holds every constructed component, handed to the HTTP server and
// the job handlers registered against the queue.
type App struct {
	Config *config.Config
	Logger arbor.ILogger

	DB         *badger.DB
	Repository repository.Repository
	JobStorage *badger.JobStorage
	Vault      *vault.Vault

	BrowserPool *browser.Pool
	Sessions    *browser.Manager
	Driver      *driver.Driver
	Scraper     *scraper.Scraper
	Recovery    *recovery.Engine
	Resources   *resources.Manager
	Bus         *progress.Bus
	Queue       *queue.Queue
	FormEngine  *formengine.Engine
	Scheduler   *scheduler.Scheduler
}

// Login site endpoints; not user-configurable because the driver is
// bound to one known target site (spec §4.3).
const (
	targetLoginURL = "https://app.targetsite.example/login"
	targetListURL  = "https://app.targetsite.example/work-orders"
)

// New constructs the full App object graph from cfg. It does not start
// any background loop (queue dispatch, scheduler) — call Start for
// that once the caller is ready to serve traffic.
func New(cfg *config.Config, masterKey string, logger arbor.ILogger) (*App, error) {
	db, err := badger.Open(cfg.Storage.Badger.Path, cfg.Storage.Badger.ResetOnStartup, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}

	repo := badger.NewRepository(db, logger)
	jobStorage := badger.NewJobStorage(db, logger)
	vaultStorage := badger.NewVaultStorage(db, logger)

	cv, err := vault.New(masterKey, cfg.Vault.KDFIterations, vaultStorage, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: construct vault: %w", err)
	}

	pool := browser.NewPool(browser.PoolConfig{
		MaxSessions:    cfg.Browser.MaxInstances,
		Headless:       !cfg.Browser.Visible,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		NavTimeout:     cfg.Browser.NavigationTimeout,
	}, logger)
	sessions := browser.NewManager(pool, logger)

	recoveryEng := recovery.NewEngine(logger)

	drv := driver.New(driver.Config{
		LoginURL:   targetLoginURL,
		ListURL:    targetListURL,
		NavTimeout: cfg.Browser.NavigationTimeout,
	}, recoveryEng, logger)

	scr := scraper.New(logger)

	resourceMgr := resources.New(resources.Limits{
		MaxSessions: cfg.Queue.CapacitySessions,
		MaxMemoryMB: cfg.Queue.CapacityMemoryMB,
		MaxCPU:      cfg.Queue.CapacityCPU,
	}, logger)

	bus := progress.New(logger)

	q := queue.New(queue.Config{
		Workers:          cfg.Queue.MaxConcurrentJobs,
		DefaultRetryWait: 2 * cfg.Queue.TickInterval,
		DefaultMaxRetry:  3,
	}, jobStorage, resourceMgr, bus, logger)

	formEng := formengine.New(drv, recoveryEng, bus, logger)

	sched := scheduler.New(scheduler.Config{
		IdleSessionTTL: cfg.Browser.IdleSessionTTL,
		PurgeAfter:     cfg.Queue.PurgeAfter,
		SweepCron:      "@every 1m",
		PurgeCron:      "@every 1h",
	}, sessions, jobStorage, logger)

	a := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Repository:  repo,
		JobStorage:  jobStorage,
		Vault:       cv,
		BrowserPool: pool,
		Sessions:    sessions,
		Driver:      drv,
		Scraper:     scr,
		Recovery:    recoveryEng,
		Resources:   resourceMgr,
		Bus:         bus,
		Queue:       q,
		FormEngine:  formEng,
		Scheduler:   sched,
	}
	a.registerJobHandlers()
	return a, nil
}

// Start begins the queue dispatch loop, rehydrates any jobs left
// running across a restart, and starts the housekeeping scheduler.
func (a *App) Start(ctx context.Context) error {
	if err := a.Queue.Rehydrate(ctx); err != nil {
		return fmt.Errorf("app: rehydrate queue: %w", err)
	}
	a.Queue.Start(ctx)
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}
	return nil
}

// Shutdown tears down every component that owns a background resource,
// in dependency order: queue workers first (so no job starts a new
// browser context mid-shutdown), then the scheduler, then sessions,
// then the browser process, then storage.
func (a *App) Shutdown() {
	a.Queue.Stop()
	a.Scheduler.Stop()
	a.Sessions.CloseIdle(0) // every session is "idle" under a zero TTL: closes all
	a.BrowserPool.Shutdown()
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("app: error closing database during shutdown")
	}
}
