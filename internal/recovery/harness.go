package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// Stat aggregates attempt counts for one (kind, action) pair (spec
// §4.7 statistics).
type Stat struct {
	Attempts int
	Successes int
	Failures  int
}

// SuccessRate returns Successes/Attempts, or 0 when there have been no
// attempts.
func (s Stat) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// historyCapacity bounds the recent-errors ring buffer (spec §4.7,
// default 1000).
const historyCapacity = 1000

// Engine wires the classifier, strategy table, circuit breaker, and
// retry harness together into the operation every component wraps its
// browser interactions with (spec §4.7; the driver and the form engine
// run their operations through it).
type Engine struct {
	breakers *BreakerRegistry
	logger   arbor.ILogger

	mu      sync.Mutex
	stats   map[string]*Stat // key: "kind/action"
	history []models.RecoveryContext
	histPos int
}

// NewEngine constructs a recovery Engine.
func NewEngine(logger arbor.ILogger) *Engine {
	return &Engine{
		breakers: NewBreakerRegistry(),
		logger:   logger,
		stats:    make(map[string]*Stat),
		history:  make([]models.RecoveryContext, 0, historyCapacity),
	}
}

// Op is one unit of work the engine retries under a classified error
// strategy: operation names the logical step (e.g. "navigate_to_list")
// used both for breaker keying and statistics.
type Op func(ctx context.Context, attempt int) error

// Run executes op, retrying per the strategy for the error kind
// classified from its most recent failure, honoring the circuit breaker for
// (kind, operation). It returns the last error if all attempts (and
// the fallback action, where applicable) are exhausted.
func (e *Engine) Run(ctx context.Context, sessionID, userID, jobID, operation string, op Op) error {
	var lastErr error
	var kind models.ErrorKind = models.ErrorKindUnknown
	attempt := 0

	for {
		attempt++
		breakerErr := e.breakers.Execute(kind, operation, func() error {
			return op(ctx, attempt)
		})
		if breakerErr == nil {
			e.record(kind, models.ActionRetryImmediate, true)
			return nil
		}

		if errors.Is(breakerErr, ErrCircuitOpen) {
			e.recordContext(models.RecoveryContext{
				ErrorID: uuid.New().String(), ErrorKind: kind, Operation: operation,
				SessionID: sessionID, UserID: userID, JobID: jobID,
				AttemptNumber: attempt, Timestamp: time.Now(),
				Message: "circuit open: escalating to manual review",
			})
			return fmt.Errorf("%s: circuit open, escalating to manual review: %w", operation, breakerErr)
		}

		lastErr = breakerErr
		kind = Classify(lastErr)
		strategy := StrategyFor(kind, attempt)
		e.record(kind, strategy.Action, false)
		e.recordContext(models.RecoveryContext{
			ErrorID: uuid.New().String(), ErrorKind: kind, Operation: operation,
			SessionID: sessionID, UserID: userID, JobID: jobID,
			AttemptNumber: attempt, Timestamp: time.Now(), Message: lastErr.Error(),
		})

		switch strategy.Action {
		case models.ActionAbort, models.ActionEscalateManual, models.ActionSkipAndContinue:
			return fmt.Errorf("%s: %s (kind=%s): %w", operation, strategy.Action, kind, lastErr)
		}

		if attempt >= strategy.MaxAttempts {
			return fmt.Errorf("%s: exhausted %d attempts (kind=%s): %w", operation, strategy.MaxAttempts, kind, lastErr)
		}

		if delay := DelayFor(strategy, attempt); delay > 0 {
			if err := e.wait(ctx, delay); err != nil {
				return fmt.Errorf("%s: cancelled during backoff: %w", operation, err)
			}
		}
	}
}

// wait pauses for d, taking the wait length from a go-retry constant
// backoff's Next() rather than a bare time.Sleep, and returns ctx's
// error early if ctx is cancelled. The delay itself comes from
// DelayFor; Run's strategy selection does not use go-retry.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	b := retry.NewConstant(d)
	wait, _ := b.Next()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (e *Engine) record(kind models.ErrorKind, action models.RecoveryAction, success bool) {
	key := fmt.Sprintf("%s/%s", kind, action)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[key]
	if !ok {
		s = &Stat{}
		e.stats[key] = s
	}
	s.Attempts++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
}

func (e *Engine) recordContext(rc models.RecoveryContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) < historyCapacity {
		e.history = append(e.history, rc)
		return
	}
	e.history[e.histPos] = rc
	e.histPos = (e.histPos + 1) % historyCapacity
}

// Stats returns a snapshot of per-(kind,action) statistics, keyed
// "kind/action" (spec §4.7, surfaced at GET /recovery/stats).
func (e *Engine) Stats() map[string]Stat {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Stat, len(e.stats))
	for k, v := range e.stats {
		out[k] = *v
	}
	return out
}

// RecentErrors returns the bounded recent-error ring buffer contents,
// oldest first.
func (e *Engine) RecentErrors() []models.RecoveryContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RecoveryContext, 0, len(e.history))
	out = append(out, e.history[e.histPos:]...)
	out = append(out, e.history[:e.histPos]...)
	return out
}
