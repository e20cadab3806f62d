// Package ratelimit implements the fixed-window-per-key admission limiter
// (spec.md §4.G). golang.org/x/time/rate is a token bucket with continuous
// refill; spec.md's algorithm needs a hard reset at window boundary, a
// different admission curve, so this is hand-rolled on a plain map + mutex
// (see DESIGN.md). golang.org/x/time/rate is still exercised elsewhere, by
// internal/webhook's retry pacing.
package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	count int
	reset time.Time
}

// Limiter is a fixed-window counter keyed by an arbitrary string (the
// caller assembles "user:{id}" / "socket:{id}", optionally suffixed with
// ":channel:{name}", per spec.md §4.G).
type Limiter struct {
	window time.Duration
	cap    int

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	once sync.Once
}

// New constructs a Limiter with window length window and per-window cap n.
// It starts a background sweep goroutine that drops expired entries every
// 60s; call Close to stop it.
func New(window time.Duration, n int) *Limiter {
	l := &Limiter{
		window:  window,
		cap:     n,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether key is within its window budget. It returns true
// when the call should be BLOCKED (matching spec.md §4.G's "return true"
// meaning blocked).
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.reset) {
		l.entries[key] = &entry{count: 1, reset: now.Add(l.window)}
		return false
	}
	if e.count >= l.cap {
		return true
	}
	e.count++
	return false
}

func (l *Limiter) sweepLoop() {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if now.After(e.reset) {
			delete(l.entries, k)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// Key assembles the rate-limit key per spec.md §4.G: "user:{id}" when
// perUser is enabled and userID is non-empty, else "socket:{id}",
// suffixed with ":channel:{name}" when perChannel is enabled and channel
// is non-empty.
func Key(perUser bool, userID, socketID string, perChannel bool, channel string) string {
	base := "socket:" + socketID
	if perUser && userID != "" {
		base = "user:" + userID
	}
	if perChannel && channel != "" {
		base += ":channel:" + channel
	}
	return base
}
