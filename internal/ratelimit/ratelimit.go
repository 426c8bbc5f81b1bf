// Package ratelimit implements sliding-window admission control keyed by
// client identifier.
//
// A window keeps the timestamps of recent admissions; a request is admitted
// when fewer than the configured limit fall inside the moving interval.
// Idle keys are swept periodically to bound memory.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow is a per-key sliding-window rate limiter.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientWindow
	done    chan struct{}
	once    sync.Once

	// now is swappable for tests.
	now func() time.Time
}

type clientWindow struct {
	admissions []time.Time
	lastSeen   time.Time
}

// New creates a limiter admitting at most limit events per window per key.
// A positive sweepInterval starts a background sweep of idle keys.
func New(limit int, window time.Duration, sweepInterval time.Duration) *SlidingWindow {
	sw := &SlidingWindow{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		go sw.sweepLoop(sweepInterval)
	}
	return sw
}

// Allow reports whether one more event for key fits in the current window,
// recording it if so.
func (sw *SlidingWindow) Allow(key string) bool {
	now := sw.now()
	cutoff := now.Add(-sw.window)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	cw, ok := sw.clients[key]
	if !ok {
		cw = &clientWindow{}
		sw.clients[key] = cw
	}
	cw.lastSeen = now

	// Drop admissions that slid out of the window.
	live := cw.admissions[:0]
	for _, ts := range cw.admissions {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	cw.admissions = live

	if len(cw.admissions) >= sw.limit {
		return false
	}
	cw.admissions = append(cw.admissions, now)
	return true
}

// Keys returns the number of tracked client keys. Intended for tests and
// metrics.
func (sw *SlidingWindow) Keys() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.clients)
}

// Close stops the background sweeper.
func (sw *SlidingWindow) Close() {
	sw.once.Do(func() { close(sw.done) })
}

func (sw *SlidingWindow) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.sweepIdle()
		}
	}
}

// sweepIdle removes keys with no activity for a full window.
func (sw *SlidingWindow) sweepIdle() {
	cutoff := sw.now().Add(-sw.window)

	sw.mu.Lock()
	defer sw.mu.Unlock()
	for key, cw := range sw.clients {
		if cw.lastSeen.Before(cutoff) {
			delete(sw.clients, key)
		}
	}
}
