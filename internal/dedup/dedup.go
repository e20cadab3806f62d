// Package dedup implements the deduplicator (spec.md §4.J): detects
// repeated broadcasts by explicit id or by content hash, in an in-memory
// mode (map + insertion-ordered list, one sweeper) or a relay-backed mode
// for multi-node dedup through internal/relay's shared store.
package dedup

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Key computes the dedup key for a broadcast: explicitID if non-empty,
// else hash(channel ‖ event ‖ canonical-JSON(data)).
func Key(channel, event string, data any, explicitID string) (string, error) {
	if explicitID != "" {
		return explicitID, nil
	}
	canonical, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write([]byte(event))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Deduplicator is the interface both the in-memory and relay-backed
// implementations satisfy, so internal/hub can switch modes without
// branching on configuration at every call site (spec.md §9's
// feature-toggle-as-interface shape).
type Deduplicator interface {
	IsDuplicate(ctx context.Context, key string) bool
	Close()
}

type entryNode struct {
	key    string
	seenAt time.Time
	elem   *list.Element
}

// InMemory is the default, single-node deduplicator.
type InMemory struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]*entryNode
	order   *list.List // oldest-first

	stop chan struct{}
	once sync.Once
}

// NewInMemory constructs an in-memory deduplicator with the given TTL and
// maximum tracked-key count, and starts a 60s sweep goroutine.
func NewInMemory(ttl time.Duration, maxSize int) *InMemory {
	d := &InMemory{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*entryNode),
		order:   list.New(),
		stop:    make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// IsDuplicate reports whether key has been seen within its TTL. If not
// (or expired), it records key as seen and returns false.
func (d *InMemory) IsDuplicate(ctx context.Context, key string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		if now.Sub(e.seenAt) < d.ttl {
			return true
		}
		d.order.Remove(e.elem)
		delete(d.entries, key)
	}

	elem := d.order.PushBack(key)
	d.entries[key] = &entryNode{key: key, seenAt: now, elem: elem}

	for d.maxSize > 0 && len(d.entries) > d.maxSize {
		oldest := d.order.Front()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(string))
	}
	return false
}

func (d *InMemory) sweepLoop() {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.sweep()
		case <-d.stop:
			return
		}
	}
}

func (d *InMemory) sweep() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for e := d.order.Front(); e != nil; {
		next := e.Next()
		key := e.Value.(string)
		node := d.entries[key]
		if node != nil && now.Sub(node.seenAt) >= d.ttl {
			d.order.Remove(e)
			delete(d.entries, key)
		}
		e = next
	}
}

// Close stops the sweep goroutine.
func (d *InMemory) Close() {
	d.once.Do(func() { close(d.stop) })
}

// Store is the relay-backed key/value capability dedup needs: SET-if-
// absent semantics with a TTL. internal/relay.RedisAdapter implements
// this with a single Redis SET NX carrying the TTL.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (stored bool, err error)
}

// Relayed is the multi-node deduplicator, backed by a shared Store.
// Store errors are treated as fail-open ("not duplicate"), logged, per
// spec.md §4.J/§7.
type Relayed struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

// NewRelayed constructs a relay-backed deduplicator.
func NewRelayed(store Store, ttl time.Duration, log *slog.Logger) *Relayed {
	if log == nil {
		log = slog.Default()
	}
	return &Relayed{store: store, ttl: ttl, log: log}
}

// IsDuplicate asks the shared store to set key if absent; a failed set
// means a duplicate; a store error fails open.
func (r *Relayed) IsDuplicate(ctx context.Context, key string) bool {
	stored, err := r.store.SetIfAbsent(ctx, key, r.ttl)
	if err != nil {
		r.log.Warn("dedup store error, failing open", "key", key, "error", err)
		return false
	}
	return !stored
}

// Close is a no-op; the shared store outlives this deduplicator.
func (r *Relayed) Close() {}
