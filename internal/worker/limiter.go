package worker

import (
	"context"
	"sync"
	"time"
)

// StartLimiter caps generation starts to max per rolling window across
// all workers. Retries count as starts; vendor rate limits apply to
// every outbound generation call.
type StartLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	starts []time.Time
	now    func() time.Time
}

// NewStartLimiter creates a limiter allowing max starts per window.
// A non-positive max disables limiting.
func NewStartLimiter(max int, window time.Duration) *StartLimiter {
	return &StartLimiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until a start slot is available and records the start.
func (l *StartLimiter) Wait(ctx context.Context) error {
	if l.max <= 0 {
		return nil
	}
	for {
		ok, retryIn := l.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve claims a slot if under the cap, otherwise reports how long
// until the oldest start leaves the window.
func (l *StartLimiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.starts[:0]
	for _, t := range l.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.starts = kept

	if len(l.starts) < l.max {
		l.starts = append(l.starts, now)
		return true, 0
	}
	return false, l.starts[0].Sub(cutoff)
}
