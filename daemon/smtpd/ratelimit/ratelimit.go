// Package ratelimit adapts misc.RateLimit, the teacher's interval-bucketed
// hit counter (daemon/common.TCPServer uses one per listener to cap
// connections per client IP), to collab.RateLimiter so the same primitive
// also gates recipient acceptance inside a session.
package ratelimit

import (
	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/lalog"
	"github.com/relaydog/mtasession/misc"
)

// PerSession wraps a misc.RateLimit keyed by session ID, giving each session
// its own hit budget over a fixed interval that resets to empty (not a
// rolling window), rather than the connection-level
// per-IP budget TCPServer already enforces.
type PerSession struct {
	limit *misc.RateLimit
}

// New builds a rate limiter allowing up to maxCount hits per unitSecs for
// any one actor name (here, a session ID).
func New(unitSecs int64, maxCount int, logger lalog.Logger) *PerSession {
	limit := &misc.RateLimit{UnitSecs: unitSecs, MaxCount: maxCount, Logger: logger}
	limit.Initialise()
	return &PerSession{limit: limit}
}

// IsAllowed implements collab.RateLimiter.
func (p *PerSession) IsAllowed(sessionID string) bool {
	return p.limit.Add(sessionID, true)
}

var _ collab.RateLimiter = (*PerSession)(nil)
