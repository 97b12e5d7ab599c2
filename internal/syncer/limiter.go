package syncer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter bounds remote sync volume for a single account. Two policies
// apply together: a minimum interval between syncs and a maximum count
// within any rolling window. Each account owns its own Limiter instance,
// so quota is never shared across accounts in the same process.
type Limiter struct {
	mu           sync.Mutex
	interval     *rate.Limiter
	window       time.Duration
	maxPerWindow int
	stamps       []time.Time
	nowFunc      func() time.Time
}

// NewLimiter creates a limiter enforcing minGap between syncs and at most
// maxPerHour syncs in any rolling hour.
func NewLimiter(minGap time.Duration, maxPerHour int) *Limiter {
	return &Limiter{
		interval:     rate.NewLimiter(rate.Every(minGap), 1),
		window:       time.Hour,
		maxPerWindow: maxPerHour,
		nowFunc:      time.Now,
	}
}

// Allow reports whether a sync may proceed now and, if so, consumes quota.
// A forced sync bypasses the minimum interval but still counts against and
// respects the rolling-window cap.
func (l *Limiter) Allow(force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	// Drop timestamps that aged out of the rolling window. The slice is
	// bounded by maxPerWindow, so the scan stays cheap.
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) >= l.maxPerWindow {
		return false
	}

	if !force && !l.interval.AllowN(now, 1) {
		return false
	}

	l.stamps = append(l.stamps, now)
	return true
}
