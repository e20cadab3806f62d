// Package conn implements the connection table (spec.md §3/§4, component D):
// socket-id -> connection handle, owned exclusively by the server
// orchestrator. Mirrors the shape of the teacher's
// internal/websocket.Client/Hub.clients pairing, generalized into a
// standalone table the orchestrator is the only writer of.
package conn

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one live socket. Its channel set is mutated only by the
// owning I/O handler (spec.md §3), so Connection carries its own lock
// distinct from the Table's.
type Connection struct {
	ID          string
	ConnectedAt time.Time
	UserID      string // empty when anonymous

	mu       sync.RWMutex
	channels map[string]struct{}

	// Sender abstracts the transport write path so this package stays
	// independent of gorilla/websocket; internal/hub supplies the real
	// implementation.
	Sender Sender
}

// Sender is the minimal transport-facing capability a Connection needs.
type Sender interface {
	Send(frame []byte) error
	BufferedBytes() int
	Close(code int, reason string) error
}

// New creates a Connection with a freshly generated socket id.
func New(userID string, sender Sender) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		UserID:      userID,
		channels:    make(map[string]struct{}),
		Sender:      sender,
	}
}

// AddChannel records that this connection subscribed to name.
func (c *Connection) AddChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = struct{}{}
}

// RemoveChannel records that this connection left name.
func (c *Connection) RemoveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// HasChannel reports whether this connection currently subscribes to name.
func (c *Connection) HasChannel(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[name]
	return ok
}

// Channels returns a snapshot of subscribed channel names, safe to range
// over while the underlying set is concurrently mutated (spec.md §4.B's
// "snapshot first to permit mutation" requirement for unsubscribeAll).
func (c *Connection) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

// ChannelCount reports how many channels this connection currently
// subscribes to, for load-manager per-connection caps.
func (c *Connection) ChannelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// Table is the orchestrator-owned socket-id -> Connection map.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewTable constructs an empty connection table.
func NewTable() *Table {
	return &Table{conns: make(map[string]*Connection)}
}

// Add registers c, created on upgrade (spec.md §3's Connection lifecycle).
func (t *Table) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID] = c
}

// Remove drops c, destroyed on close.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// Get looks up a connection by socket id.
func (t *Table) Get(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// Len reports the current connection count (load manager's connections
// counter).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Snapshot returns every live connection, safe for iteration outside the
// table's lock (spec.md §5's "copy-on-write snapshot" guidance for
// read-only traversals used in fan-out).
func (t *Table) Snapshot() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}
