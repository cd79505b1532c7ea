package models

import (
	"context"
	"time"
)

// Session is a live, logged-in browser context bound to one user.
// A Session owns exactly one browser context; the context is never
// shared across sessions (spec §3 invariants).
type Session struct {
	SessionID string
	UserID    string

	// Ctx is the chromedp-allocated context for this session's page.
	// Cancel tears down the underlying browser tab.
	Ctx    context.Context
	Cancel context.CancelFunc

	LoggedIn  bool
	CreatedAt time.Time
	LastUsed  time.Time
}

// Touch updates the session's last-used timestamp, used by idle sweeps.
func (s *Session) Touch() {
	s.LastUsed = time.Now()
}

// Idle reports whether the session has been unused for longer than ttl.
func (s *Session) Idle(ttl time.Duration) bool {
	return time.Since(s.LastUsed) > ttl
}
