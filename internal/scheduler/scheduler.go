// Package scheduler runs the system's periodic housekeeping sweeps —
// idle browser-session eviction and terminal-job purging — on a
// robfig/cron/v3 schedule, independent of the job queue's own
// dispatch-tick loop. Grounded on the teacher's internal/services
// background-maintenance goroutines, generalized to a cron expression
// table instead of a single hardcoded ticker.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/browser"
	"github.com/fossawork/dispatcher/internal/storage/badger"
)

// Config bounds the sweep cadence and thresholds.
type Config struct {
	IdleSessionTTL   time.Duration
	PurgeAfter       time.Duration
	SweepCron        string // idle-session sweep, default every minute
	PurgeCron        string // terminal-job purge, default hourly
}

// DefaultConfig matches the spec's stated defaults (§4.2 idle TTL,
// §4.9 24h purge window).
func DefaultConfig() Config {
	return Config{
		IdleSessionTTL: 20 * time.Minute,
		PurgeAfter:     24 * time.Hour,
		SweepCron:      "@every 1m",
		PurgeCron:      "@every 1h",
	}
}

// Scheduler owns a cron runner driving the two housekeeping sweeps.
type Scheduler struct {
	cron      *cron.Cron
	sessions  *browser.Manager
	jobStore  *badger.JobStorage
	cfg       Config
	logger    arbor.ILogger
}

// New constructs a Scheduler. Call Start to register and run its jobs.
func New(cfg Config, sessions *browser.Manager, jobStore *badger.JobStorage, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		sessions: sessions,
		jobStore: jobStore,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the sweep jobs and begins the cron runner in its own
// goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.SweepCron, s.sweepIdleSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.PurgeCron, func() { s.purgeTerminalJobs(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) sweepIdleSessions() {
	n := s.sessions.CloseIdle(s.cfg.IdleSessionTTL)
	if n > 0 {
		s.logger.Info().Int("closed", n).Msg("scheduler: idle session sweep")
	}
}

func (s *Scheduler) purgeTerminalJobs(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.PurgeAfter).Unix()
	n, err := s.jobStore.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler: terminal job purge failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("purged", n).Msg("scheduler: terminal job purge")
	}
}
