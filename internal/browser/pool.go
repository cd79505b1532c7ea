// Package browser implements the Browser Pool and Session Manager
// (C2/C3, spec §4.2): exactly one underlying browser process, at most
// N concurrent per-user contexts, each with stealth defaults and an
// idle-sweep liveness contract. Grounded on the teacher's
// internal/services/crawler/chromedp_pool.go (ExecAllocator +
// chromedp.NewContext lifecycle, startup self-test, mutex-guarded
// instance slice), generalized from a round-robin anonymous pool to
// named per-session allocation keyed by session ID.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// PoolConfig bounds the underlying Chrome process and the stealth
// defaults applied to every session (spec §4.2).
type PoolConfig struct {
	MaxSessions    int
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

// DefaultPoolConfig mirrors the teacher's defaults (1366x768 viewport,
// headless) with the spec's default session cap of 5.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSessions:    5,
		Headless:       true,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1366,
		ViewportHeight: 768,
		NavTimeout:     30 * time.Second,
	}
}

// Pool owns the single allocator process and issues per-session
// browser contexts up to cfg.MaxSessions (spec §4.2 "exactly one
// underlying browser process per pool; at most N concurrent
// contexts").
type Pool struct {
	mu     sync.Mutex
	cfg    PoolConfig
	logger arbor.ILogger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	active int
}

// NewPool creates the shared exec allocator. The allocator itself
// does not launch a browser process until the first context is
// created from it (chromedp lazily spawns Chrome on first use).
func NewPool(cfg PoolConfig, logger arbor.ILogger) *Pool {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Pool{cfg: cfg, logger: logger, allocatorCtx: allocatorCtx, allocatorCancel: allocatorCancel}
}

// ErrPoolExhausted is returned by NewContext when MaxSessions
// concurrent contexts are already checked out.
var ErrPoolExhausted = fmt.Errorf("browser pool: max concurrent sessions reached")

// NewContext checks out one browser tab context against the pool's
// session cap, applies stealth defaults (navigator.webdriver hidden,
// per spec §4.2), and returns it with a release function the caller
// must invoke exactly once.
func (p *Pool) NewContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	p.mu.Lock()
	if p.active >= p.cfg.MaxSessions {
		p.mu.Unlock()
		return nil, nil, ErrPoolExhausted
	}
	p.active++
	p.mu.Unlock()

	browserCtx, browserCancel := chromedp.NewContext(p.allocatorCtx)

	release := func() {
		browserCancel()
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}

	navCtx, navCancel := context.WithTimeout(browserCtx, p.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(hideWebdriverFlag),
	); err != nil {
		release()
		return nil, nil, fmt.Errorf("browser pool: failed to initialize context: %w", err)
	}

	p.logger.Debug().Int("active", p.active).Int("max", p.cfg.MaxSessions).Msg("browser pool: context checked out")
	return browserCtx, release, nil
}

// hideWebdriverFlag overrides navigator.webdriver to undefined so the
// target site's bot-detection does not see the automation flag (spec
// §4.2 stealth default).
func hideWebdriverFlag(ctx context.Context) error {
	return chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`, nil).Do(ctx)
}

// Utilization reports current/max concurrent contexts, mirroring the
// teacher's GetPoolStats (spec §4.2, surfaced via resources
// utilization telemetry).
type Utilization struct {
	Active int
	Max    int
}

func (p *Pool) Utilization() Utilization {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Utilization{Active: p.active, Max: p.cfg.MaxSessions}
}

// Shutdown cancels the shared allocator, tearing down any browser
// process it owns.
func (p *Pool) Shutdown() {
	p.allocatorCancel()
}

// Probe runs the liveness check the session manager re-verifies
// before reuse (spec §4.2: "a lightweight liveness probe (e.g.
// document.title)").
func Probe(ctx context.Context) error {
	var title string
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Title(&title)); err != nil {
		return fmt.Errorf("browser: liveness probe failed: %w", err)
	}
	return nil
}

// Manager is C3, the session manager: tracks live sessions keyed by
// session ID over a shared Pool, enforcing the idle-sweep and
// liveness-reverification invariants (spec §4.2).
type Manager struct {
	mu       sync.Mutex
	pool     *Pool
	sessions map[string]*models.Session
	logger   arbor.ILogger
}

// NewManager constructs a session Manager over pool.
func NewManager(pool *Pool, logger arbor.ILogger) *Manager {
	return &Manager{pool: pool, sessions: make(map[string]*models.Session), logger: logger}
}

// Open checks out a new browser context for userID and registers the
// resulting Session. Login itself is performed by the caller (C4's
// driver) once the session handle is returned, per the component
// boundary in spec §4.2/§4.3.
func (m *Manager) Open(ctx context.Context, sessionID, userID string) (*models.Session, context.CancelFunc, error) {
	browserCtx, release, err := m.pool.NewContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	sessCtx, cancel := context.WithCancel(browserCtx)
	now := time.Now()
	session := &models.Session{
		SessionID: sessionID,
		UserID:    userID,
		Ctx:       sessCtx,
		Cancel:    cancel,
		CreatedAt: now,
		LastUsed:  now,
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	fullCancel := func() {
		cancel()
		release()
	}
	return session, fullCancel, nil
}

// Get returns the session for sessionID, re-verifying liveness and
// touching its last-used timestamp (spec §4.2 reuse contract). A
// failed liveness probe removes the session and returns an error so
// the caller can route to browser_crash recovery.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	if err := Probe(session.Ctx); err != nil {
		m.Close(sessionID)
		return nil, fmt.Errorf("session %s failed liveness probe: %w", sessionID, err)
	}

	session.Touch()
	return session, nil
}

// Close removes and cancels sessionID's context. Safe to call on an
// unknown ID.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		session.Cancel()
	}
}

// CloseIdle sweeps and closes every session unused for longer than
// ttl (spec §4.2 close_idle(ttl)).
func (m *Manager) CloseIdle(ttl time.Duration) int {
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.Idle(ttl) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Close(id)
	}
	if len(stale) > 0 {
		m.logger.Info().Int("count", len(stale)).Dur("ttl", ttl).Msg("session manager: swept idle sessions")
	}
	return len(stale)
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
