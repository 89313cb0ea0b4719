// Package ratelimit holds the per-process carrier pacing state: a
// sliding-window request counter per carrier plus the 429 cooldown. The
// limiter is a safety margin for a single worker, not a correctness
// guarantee: state is never persisted and resets on restart.
package ratelimit

import (
	"sync"
	"time"

	"github.com/LaneWise/ShipSync/internal/models"
	"github.com/pkg/errors"
)

var ErrRateLimited = errors.New("RATE_LIMITED")

const (
	DefaultWindow   = time.Minute
	DefaultCap      = 60
	DefaultCooldown = time.Minute
)

type Limiter struct {
	mu sync.Mutex

	window   time.Duration
	cooldown time.Duration
	cap      int
	caps     map[models.Carrier]int

	requests map[models.Carrier][]time.Time
	blocked  map[models.Carrier]time.Time

	now func() time.Time
}

// New builds a limiter with the default 60-requests-per-minute cap.
// Per-carrier overrides win over the default. One limiter is constructed
// per orchestrator and injected; there is no package-level state.
func New(defaultCap int, caps map[models.Carrier]int) *Limiter {
	if defaultCap <= 0 {
		defaultCap = DefaultCap
	}
	return &Limiter{
		window:   DefaultWindow,
		cooldown: DefaultCooldown,
		cap:      defaultCap,
		caps:     caps,
		requests: make(map[models.Carrier][]time.Time),
		blocked:  make(map[models.Carrier]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Limiter) WithCooldown(d time.Duration) *Limiter {
	if d > 0 {
		l.cooldown = d
	}
	return l
}

func (l *Limiter) withNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) capFor(c models.Carrier) int {
	if n, ok := l.caps[c]; ok && n > 0 {
		return n
	}
	return l.cap
}

// Check fails fast with ErrRateLimited when the carrier is inside a 429
// cooldown or the trailing window is already at the cap. It does not
// record anything.
func (l *Limiter) Check(c models.Carrier) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.blocked[c]; ok {
		if now.Before(until) {
			return errors.Wrapf(ErrRateLimited, "carrier %s blocked until %s", c, until.Format(time.RFC3339))
		}
		delete(l.blocked, c)
	}

	l.prune(c, now)
	if len(l.requests[c]) >= l.capFor(c) {
		return errors.Wrapf(ErrRateLimited, "carrier %s: %d calls in last %s", c, len(l.requests[c]), l.window)
	}
	return nil
}

// Record appends the current timestamp to the carrier's window.
func (l *Limiter) Record(c models.Carrier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(c, now)
	l.requests[c] = append(l.requests[c], now)
}

// Block starts the cooldown window after the carrier answered 429.
func (l *Limiter) Block(c models.Carrier) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(l.cooldown)
	l.blocked[c] = until
	return until
}

func (l *Limiter) Blocked(c models.Carrier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.blocked[c]
	return ok && l.now().Before(until)
}

// prune lazily drops entries older than the window. Callers hold l.mu.
func (l *Limiter) prune(c models.Carrier, now time.Time) {
	cutoff := now.Add(-l.window)
	reqs := l.requests[c]
	kept := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.requests[c] = kept
}
