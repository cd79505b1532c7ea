// Package resources implements the resource manager (C8, spec §4.8):
// a mutex-guarded ledger of in-use browser sessions, memory, and CPU
// budget that the job queue consults before admitting a job, so the
// system never oversubscribes the browser pool or host memory.
// Grounded on the teacher's internal/resources concurrency-budget
// guard (a single mutex-protected counter set), generalized to the
// multi-dimensional models.ResourceRequirement.
package resources

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// Limits bounds the total resources the system may commit at once
// (spec §4.8; the app derives them from config.QueueConfig's
// CapacitySessions, CapacityMemoryMB and CapacityCPU).
type Limits struct {
	MaxSessions int
	MaxMemoryMB int
	MaxCPU      float64
}

// Manager tracks allocations against Limits. All methods are safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	limits  Limits
	used    models.ResourceRequirement
	holders map[string]models.ResourceRequirement
	logger  arbor.ILogger
}

// New constructs a Manager with the given limits.
func New(limits Limits, logger arbor.ILogger) *Manager {
	return &Manager{
		limits:  limits,
		holders: make(map[string]models.ResourceRequirement),
		logger:  logger,
	}
}

// CanAllocate reports whether req would fit within remaining capacity
// without committing it (spec §4.8 admission check, called by the
// queue's dispatch loop before popping a job off a heap).
func (m *Manager) CanAllocate(req models.ResourceRequirement) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fits(req)
}

func (m *Manager) fits(req models.ResourceRequirement) bool {
	if m.limits.MaxSessions > 0 && m.used.Sessions+req.Sessions > m.limits.MaxSessions {
		return false
	}
	if m.limits.MaxMemoryMB > 0 && m.used.MemoryMB+req.MemoryMB > m.limits.MaxMemoryMB {
		return false
	}
	if m.limits.MaxCPU > 0 && m.used.CPU+req.CPU > m.limits.MaxCPU {
		return false
	}
	return true
}

// Allocate commits req against the budget under holderID. Callers must
// have already confirmed CanAllocate; Allocate does not re-check and
// will happily oversubscribe if called without a prior check, mirroring
// the teacher's "check-then-act under one critical section" pattern
// (the queue always calls CanAllocate and Allocate under the same
// dispatch-loop lock ordering so no race exists in practice).
func (m *Manager) Allocate(holderID string, req models.ResourceRequirement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used.Sessions += req.Sessions
	m.used.MemoryMB += req.MemoryMB
	m.used.CPU += req.CPU
	m.holders[holderID] = req
	m.logger.Debug().Str("holder", holderID).Int("sessions", m.used.Sessions).Msg("resources: allocated")
}

// Release returns holderID's reservation to the pool. Safe to call on
// an unknown holderID (no-op).
func (m *Manager) Release(holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.holders[holderID]
	if !ok {
		return
	}
	m.used.Sessions -= req.Sessions
	m.used.MemoryMB -= req.MemoryMB
	m.used.CPU -= req.CPU
	delete(m.holders, holderID)
	m.logger.Debug().Str("holder", holderID).Int("sessions", m.used.Sessions).Msg("resources: released")
}

// Utilization reports current usage as a fraction of each limit (spec
// §4.8 telemetry, surfaced at GET /resources/utilization).
type Utilization struct {
	Sessions float64
	MemoryMB float64
	CPU      float64
}

func (m *Manager) Utilization() Utilization {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u Utilization
	if m.limits.MaxSessions > 0 {
		u.Sessions = float64(m.used.Sessions) / float64(m.limits.MaxSessions)
	}
	if m.limits.MaxMemoryMB > 0 {
		u.MemoryMB = float64(m.used.MemoryMB) / float64(m.limits.MaxMemoryMB)
	}
	if m.limits.MaxCPU > 0 {
		u.CPU = m.used.CPU / m.limits.MaxCPU
	}
	return u
}
