package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fossawork/dispatcher/internal/models"
)

// breakerKey identifies one circuit: a (error_kind, operation) pair
// (spec §4.7).
type breakerKey struct {
	kind      models.ErrorKind
	operation string
}

// BreakerRegistry lazily creates and caches one gobreaker.CircuitBreaker
// per (error_kind, operation) pair, opening after 10 consecutive
// failures and resetting after a 5 minute cooldown (spec §4.7).
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[breakerKey]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry constructs an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[breakerKey]*gobreaker.CircuitBreaker)}
}

func (r *BreakerRegistry) get(kind models.ErrorKind, operation string) *gobreaker.CircuitBreaker {
	key := breakerKey{kind: kind, operation: operation}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:    fmt.Sprintf("%s/%s", kind, operation),
		Timeout: 5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	r.breakers[key] = b
	return b
}

// ErrCircuitOpen is returned by Execute when the breaker for
// (kind, operation) is open; the caller should treat this as
// escalate_manual (spec §4.7).
var ErrCircuitOpen = gobreaker.ErrOpenState

// Execute runs fn through the named circuit, recording success or
// failure against the breaker's consecutive-failure counter.
func (r *BreakerRegistry) Execute(kind models.ErrorKind, operation string, fn func() error) error {
	b := r.get(kind, operation)
	_, err := b.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State reports a breaker's current state for diagnostics, without
// creating one if it does not yet exist.
func (r *BreakerRegistry) State(kind models.ErrorKind, operation string) (gobreaker.State, bool) {
	key := breakerKey{kind: kind, operation: operation}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.State(), true
}
