// Package presence implements the presence heartbeat (spec.md §4.N):
// per-channel socket -> {last-seen, member}, refreshed by client
// presence_heartbeat frames, swept periodically for staleness.
package presence

import (
	"sync"
	"time"
)

type entry struct {
	lastSeen time.Time
	member   any
}

// OnEvictFn is invoked when a stale entry is swept, so the orchestrator
// can broadcast member_removed and unsubscribe the socket from the
// channel registry.
type OnEvictFn func(channel, socketID string)

// Tracker holds live presence state across all presence channels.
type Tracker struct {
	timeout time.Duration
	onEvict OnEvictFn

	mu       sync.Mutex
	channels map[string]map[string]entry

	stop chan struct{}
	once sync.Once
}

// New constructs a Tracker and starts its sweep goroutine, which runs
// every interval and evicts entries idle past timeout.
func New(interval, timeout time.Duration, onEvict OnEvictFn) *Tracker {
	t := &Tracker{
		timeout:  timeout,
		onEvict:  onEvict,
		channels: make(map[string]map[string]entry),
		stop:     make(chan struct{}),
	}
	go t.sweepLoop(interval)
	return t
}

// Touch records or refreshes socketID's presence on channel.
func (t *Tracker) Touch(channel, socketID string, member any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.channels[channel]
	if !ok {
		m = make(map[string]entry)
		t.channels[channel] = m
	}
	e, existed := m[socketID]
	if !existed {
		e.member = member
	}
	e.lastSeen = time.Now()
	m[socketID] = e
}

// Remove drops socketID from channel's presence map (called on explicit
// unsubscribe/disconnect, distinct from sweep-driven eviction).
func (t *Tracker) Remove(channel, socketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.channels[channel]
	if !ok {
		return
	}
	delete(m, socketID)
	if len(m) == 0 {
		delete(t.channels, channel)
	}
}

// Snapshot returns channel's current members (for building presence
// hashes on subscribe).
func (t *Tracker) Snapshot(channel string) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.channels[channel]
	out := make(map[string]any, len(m))
	for id, e := range m {
		out[id] = e.member
	}
	return out
}

func (t *Tracker) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) sweep() {
	now := time.Now()
	type stale struct{ channel, socketID string }
	var evicted []stale

	t.mu.Lock()
	for channel, m := range t.channels {
		for socketID, e := range m {
			if now.Sub(e.lastSeen) > t.timeout {
				delete(m, socketID)
				evicted = append(evicted, stale{channel, socketID})
			}
		}
		if len(m) == 0 {
			delete(t.channels, channel)
		}
	}
	t.mu.Unlock()

	if t.onEvict == nil {
		return
	}
	for _, s := range evicted {
		t.onEvict(s.channel, s.socketID)
	}
}

// Close stops the sweep goroutine.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
}
