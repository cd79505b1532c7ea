package formengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fossawork/dispatcher/internal/models"
)

// BatchConfig bounds a multi-visit batch form run (spec §4.5: "across
// multiple visits with configurable concurrency (default 1), inter-job
// delay, per-item retry limit (default 3), and a continue-on-error
// flag").
type BatchConfig struct {
	Concurrency    int
	InterJobDelay  time.Duration
	PerItemRetries int
	ContinueOnErr  bool
}

// DefaultBatchConfig matches the spec's stated defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Concurrency: 1, PerItemRetries: 3}
}

// BatchItemResult is one item's outcome within a batch run.
type BatchItemResult struct {
	Run Run
	Err error
}

// RunBatch iterates runs with the configured concurrency, emitting a
// per-item progress event even though the whole batch is one logical
// queue job (spec §4.5 "a batch run holds a single logical job in the
// queue but emits per-item progress events").
func (e *Engine) RunBatch(ctx context.Context, session *models.Session, jobID string, runs []Run, cfg BatchConfig) []BatchItemResult {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PerItemRetries <= 0 {
		cfg.PerItemRetries = 3
	}

	results := make([]BatchItemResult, len(runs))
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	var stopped bool
	var mu sync.Mutex

	for i, run := range runs {
		mu.Lock()
		if stopped {
			mu.Unlock()
			break
		}
		mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, run Run) {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.runWithRetry(ctx, session, jobID, run, cfg.PerItemRetries)
			results[i] = BatchItemResult{Run: run, Err: err}

			if err != nil && !cfg.ContinueOnErr {
				mu.Lock()
				stopped = true
				mu.Unlock()
			}
			if cfg.InterJobDelay > 0 {
				time.Sleep(cfg.InterJobDelay)
			}
		}(i, run)
	}
	wg.Wait()
	return results
}

// runWithRetry applies the batch's own per-item retry limit (spec
// §4.5's "per-item retry limit (default 3)") on top of RunOne, which
// already retries each individual phase under the recovery engine's
// classifier/strategy/breaker (spec §4.7). This outer loop re-runs the
// whole item from PhaseInitializing when a phase exhausts its own
// recovery attempts, rather than duplicating that classification.
func (e *Engine) runWithRetry(ctx context.Context, session *models.Session, jobID string, run Run, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := e.RunOne(ctx, session, jobID, run); err != nil {
			lastErr = err
			e.logger.Warn().Str("dispenser_id", run.Dispenser.ID).Int("attempt", attempt).Err(err).Msg("form engine: batch item failed, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("form engine: batch item %s exhausted %d retries: %w", run.Dispenser.ID, maxRetries, lastErr)
}
