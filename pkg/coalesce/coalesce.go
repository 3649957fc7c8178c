// Package coalesce provides a timer-based rate limiter that folds bursts of
// update requests into single deliveries. Callers signal "something changed"
// via [Limiter.Schedule]; the limiter invokes the delivery function once the
// burst settles, never more often than the configured minimum interval.
//
// The delivery function reads current state when it runs, so intermediate
// updates inside a burst are naturally last-write-wins.
package coalesce

import (
	"sync"
	"time"
)

// Limiter coalesces scheduling requests into rate-limited deliveries.
// Safe for concurrent use.
type Limiter struct {
	minInterval time.Duration
	settleDelay time.Duration
	fn          func()

	mu       sync.Mutex
	timer    *time.Timer
	lastFire time.Time
	stopped  bool
}

// NewLimiter creates a limiter that calls fn at most once per minInterval,
// settleDelay after the request that armed it. fn runs on a timer goroutine.
func NewLimiter(minInterval, settleDelay time.Duration, fn func()) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		settleDelay: settleDelay,
		fn:          fn,
	}
}

// Schedule requests a delivery. If one is already pending the request folds
// into it. Otherwise a delivery is armed settleDelay from now, pushed out as
// far as needed to keep at least minInterval between consecutive deliveries.
func (l *Limiter) Schedule() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.timer != nil {
		return
	}
	delay := l.settleDelay
	if since := time.Since(l.lastFire); since < l.minInterval {
		delay += l.minInterval - since
	}
	l.timer = time.AfterFunc(delay, l.fire)
}

func (l *Limiter) fire() {
	l.mu.Lock()
	l.timer = nil
	l.lastFire = time.Now()
	stopped := l.stopped
	l.mu.Unlock()
	if !stopped {
		l.fn()
	}
}

// Flush delivers a pending request immediately, bypassing the rate limit.
// No-op when nothing is pending.
func (l *Limiter) Flush() {
	l.mu.Lock()
	if l.stopped || l.timer == nil || !l.timer.Stop() {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	l.lastFire = time.Now()
	l.mu.Unlock()
	l.fn()
}

// Stop cancels any pending delivery and rejects future ones. Idempotent.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
