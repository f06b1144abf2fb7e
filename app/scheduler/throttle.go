// Package scheduler
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/coldflowhq/coldflow/config"
)

// Throttle rate-limits dispatches with a rolling window counter plus a
// randomized inter-send pause. State is process-local and never persisted; a
// restart starts a fresh window.
type Throttle struct {
	cfg config.ThrottleConfig

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewThrottle creates a new throttle from config
func NewThrottle(cfg config.ThrottleConfig) *Throttle {
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &Throttle{cfg: cfg}
}

// BeforeSend blocks until a send slot is available in the current window.
// Windows are not aligned to wall-clock minutes; a new one starts whenever
// the previous is observed to have expired.
func (t *Throttle) BeforeSend(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := time.Now()
		if t.windowStart.IsZero() || now.Sub(t.windowStart) >= t.cfg.Window {
			t.windowStart = now
			t.count = 0
		}
		if t.count < t.cfg.WindowLimit {
			t.count++
			t.mu.Unlock()
			return nil
		}
		wait := t.cfg.Window - now.Sub(t.windowStart)
		t.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// AfterSend pauses for the base delay plus uniform random jitter so outbound
// traffic is never perfectly periodic.
func (t *Throttle) AfterSend(ctx context.Context) error {
	delay := t.cfg.BaseDelay
	if t.cfg.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(t.cfg.MaxJitter)))
	}
	return sleepCtx(ctx, delay)
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
