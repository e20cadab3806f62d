// Package channel implements the channel registry (spec.md §4.B): channel
// name -> {class, subscriber set, presence members}, created on first
// subscription, destroyed on empty. Grounded on the teacher's
// internal/websocket.Hub.channelClients map, generalized from a
// Redis-fronted lookup into the authoritative in-process registry spec.md
// describes, with presence members and lifecycle hooks added.
package channel

import (
	"context"
	"sync"

	"pulsehub/internal/authz"
	"pulsehub/internal/events"
)

// Class is the visibility category derived from a channel name's prefix.
type Class int

const (
	Public Class = iota
	Private
	Presence
)

const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// ClassOf derives the channel class from its name. presence- wins over
// private- when both would apply, though by construction they cannot both
// match (spec.md §4.B's tie-break note).
func ClassOf(name string) Class {
	switch {
	case hasPrefix(name, PresencePrefix):
		return Presence
	case hasPrefix(name, PrivatePrefix):
		return Private
	default:
		return Public
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Channel is one registry entry.
type Channel struct {
	Name  string
	Class Class

	mu          sync.RWMutex
	subscribers map[string]struct{}
	members     map[string]any // presence only: socket id -> member value
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:        name,
		Class:       ClassOf(name),
		subscribers: make(map[string]struct{}),
		members:     make(map[string]any),
	}
}

// Subscribers returns a snapshot of the current subscriber socket ids.
func (c *Channel) Subscribers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscribers))
	for id := range c.subscribers {
		out = append(out, id)
	}
	return out
}

// Len reports the current subscriber count.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// Has reports whether socketID currently subscribes to this channel.
func (c *Channel) Has(socketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscribers[socketID]
	return ok
}

// Members returns a snapshot of the presence member map (socket id ->
// member value), keyed identically to Subscribers for a presence channel
// (invariant 2).
func (c *Channel) Members() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.members))
	for k, v := range c.members {
		out[k] = v
	}
	return out
}

func (c *Channel) add(socketID string, member any) (isFirst bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	isFirst = len(c.subscribers) == 0
	c.subscribers[socketID] = struct{}{}
	if c.Class == Presence {
		c.members[socketID] = member
	}
	return isFirst
}

func (c *Channel) remove(socketID string) (count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, socketID)
	delete(c.members, socketID)
	return len(c.subscribers)
}

// Registry owns every live Channel and serializes all mutations behind one
// mutex (spec.md §5: "a straightforward implementation serializes all
// registry mutations with a single mutex and is acceptable").
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	authz    *authz.Authorizer
	bus      *events.Bus
}

// New constructs an empty Registry. auth gates private/presence
// subscriptions; bus receives lifecycle hooks.
func New(auth *authz.Authorizer, bus *events.Bus) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		authz:    auth,
		bus:      bus,
	}
}

// Get looks up an existing channel without creating one.
func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Snapshot returns every live channel (for /stats and fan-out planning).
func (r *Registry) Snapshot() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Len reports the current number of live channels (load manager's global
// channel counter).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// SubscribeResult carries what the caller needs to render a
// subscription_succeeded frame.
type SubscribeResult struct {
	Channel      *Channel
	PresenceIDs  []string
	PresenceHash map[string]any
}

// Subscribe runs authorization (for non-public channels), then links
// socketID into the channel, creating the channel entry if this is its
// first subscriber. userID is passed through to the authorizer.
func (r *Registry) Subscribe(ctx context.Context, socketID, userID, name string, channelData any) (*SubscribeResult, error) {
	class := ClassOf(name)

	var member any = channelData
	if class != Public {
		res, err := r.authz.Authorize(socketID, userID, name)
		if err != nil {
			return nil, err
		}
		if res.Verdict == authz.AllowAsPresence {
			member = res.Member
		}
	}

	ch, created := r.getOrCreate(name)
	isFirst := ch.add(socketID, member)
	_ = isFirst

	if created {
		r.bus.Emit(ctx, events.Created, events.Payload{Channel: name})
	}
	r.bus.Emit(ctx, events.Subscribed, events.Payload{Channel: name, SocketID: socketID, Subscribers: ch.Len()})

	result := &SubscribeResult{Channel: ch}
	if class == Presence {
		result.PresenceHash = ch.Members()
		result.PresenceIDs = make([]string, 0, len(result.PresenceHash))
		for id := range result.PresenceHash {
			result.PresenceIDs = append(result.PresenceIDs, id)
		}
	}
	return result, nil
}

func (r *Registry) getOrCreate(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch, false
	}
	ch := newChannel(name)
	r.channels[name] = ch
	return ch, true
}

// Unsubscribe removes socketID from name. When the channel becomes empty
// it is destroyed and dropped from the registry (invariant 3).
func (r *Registry) Unsubscribe(ctx context.Context, socketID, name string) {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	remaining := ch.remove(socketID)
	r.bus.Emit(ctx, events.Unsubscribed, events.Payload{Channel: name, SocketID: socketID, Subscribers: remaining})

	if remaining == 0 {
		r.mu.Lock()
		// Re-check under the write lock: another subscribe may have
		// raced in between ch.remove and acquiring this lock.
		if current, ok := r.channels[name]; ok && current.Len() == 0 {
			delete(r.channels, name)
		}
		r.mu.Unlock()

		r.bus.Emit(ctx, events.Empty, events.Payload{Channel: name})
		r.bus.Emit(ctx, events.Destroyed, events.Payload{Channel: name})
	}
}

// UnsubscribeAll removes socketID from every channel in channels, a
// snapshot the caller took before mutation began (spec.md §4.B).
func (r *Registry) UnsubscribeAll(ctx context.Context, socketID string, channels []string) {
	for _, name := range channels {
		r.Unsubscribe(ctx, socketID, name)
	}
}
