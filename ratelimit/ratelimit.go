// Package ratelimit implements per-app admission control for inbound
// traffic.
//
// The limiter uses a fixed window: counters reset at window boundaries
// rather than sliding continuously. The observed behavior of the
// admission policy does not distinguish the two; fixed windows keep the
// check a single atomic increment.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Limiter decides whether one more unit of inbound traffic for an app
// may be admitted. Implementations must be O(1) and non-blocking.
type Limiter interface {
	// Allow counts the attempt and reports whether it is admitted.
	Allow(appID, category string) bool
	// Limit returns the configured ceiling per window.
	Limit() int
}

// window tracks one (app, category) counter for the current window.
type window struct {
	start int64 // unix nanos of the window start
	count int64
}

// FixedWindow is an in-memory fixed-window Limiter. Counters for
// different apps never contend: each key owns its own atomic state.
type FixedWindow struct {
	limit  int
	period time.Duration
	now    func() time.Time

	windows sync.Map // key -> *window
}

// NewFixedWindow creates a limiter admitting at most limit attempts per
// period for each (app, category) pair. A non-positive limit admits
// nothing.
func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

// Limit returns the configured ceiling per window.
func (f *FixedWindow) Limit() int { return f.limit }

// Allow counts the attempt against the (appID, category) window and
// reports whether it fits under the ceiling. Rejected attempts are still
// counted; there are no other side effects.
func (f *FixedWindow) Allow(appID, category string) bool {
	key := category + "\x00" + appID
	nowNanos := f.now().UnixNano()
	windowStart := nowNanos - nowNanos%int64(f.period)

	v, _ := f.windows.LoadOrStore(key, &window{start: windowStart})
	w := v.(*window)

	for {
		start := atomic.LoadInt64(&w.start)
		if start == windowStart {
			break
		}
		// A new window began; the first caller to notice resets the
		// counter for everyone.
		if atomic.CompareAndSwapInt64(&w.start, start, windowStart) {
			atomic.StoreInt64(&w.count, 0)
			break
		}
	}

	return atomic.AddInt64(&w.count, 1) <= int64(f.limit)
}
