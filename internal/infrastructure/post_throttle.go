package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PostThrottle spaces external posts per user so one automation identity does
// not flood the target platform.
type PostThrottle struct {
	mu       sync.Mutex
	limiters map[int]*throttleEntry
	interval time.Duration
	burst    int
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewPostThrottle allows burst posts immediately, then one per interval.
// A zero interval disables throttling.
func NewPostThrottle(interval time.Duration, burst int) *PostThrottle {
	if burst < 1 {
		burst = 1
	}
	return &PostThrottle{
		limiters: make(map[int]*throttleEntry),
		interval: interval,
		burst:    burst,
	}
}

func (t *PostThrottle) limiter(userID int) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[userID]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(rate.Every(t.interval), t.burst)}
		t.limiters[userID] = e
	}
	e.lastUsed = time.Now()
	return e.limiter
}

// Wait blocks until the user may post again or ctx is done.
func (t *PostThrottle) Wait(ctx context.Context, userID int) error {
	if t == nil || t.interval <= 0 {
		return ctx.Err()
	}
	return t.limiter(userID).Wait(ctx)
}

// Prune removes limiters idle for longer than maxIdle
func (t *PostThrottle) Prune(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	now := time.Now()
	for userID, e := range t.limiters {
		if now.Sub(e.lastUsed) > maxIdle {
			delete(t.limiters, userID)
			n++
		}
	}
	return n
}

// RunPruner prunes idle limiters every tick until ctx is done
func (t *PostThrottle) RunPruner(ctx context.Context, tick, maxIdle time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune(maxIdle)
		}
	}
}
