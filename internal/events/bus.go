// Package events implements the lifecycle event bus described in spec.md
// §4.P: typed hooks fired as channels are created, subscribed to,
// unsubscribed from, emptied and destroyed. Breaking the orchestrator's
// cyclic references into a bus (per §9's REDESIGN FLAGS) means the channel
// registry never calls back into the orchestrator directly — it only
// Emits.
package events

import (
	"context"
	"log/slog"
)

// Kind identifies a lifecycle event type.
type Kind string

const (
	Created      Kind = "created"
	Subscribed   Kind = "subscribed"
	Unsubscribed Kind = "unsubscribed"
	Empty        Kind = "empty"
	Destroyed    Kind = "destroyed"
	All          Kind = "all"
)

// Payload carries the data for one lifecycle occurrence.
type Payload struct {
	Channel      string
	SocketID     string
	Subscribers  int
	PresenceHash map[string]any
}

// Handler reacts to one lifecycle event.
type Handler func(ctx context.Context, kind Kind, p Payload)

// Bus fans lifecycle events out to registered handlers. Handlers run
// sequentially in Emit's goroutine; a handler panic is recovered and
// logged, and subsequent handlers still run (spec.md §4.P/§7).
type Bus struct {
	handlers map[Kind][]Handler
	log      *slog.Logger
}

// New constructs an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{handlers: make(map[Kind][]Handler), log: log}
}

// On registers a handler for kind. Kind == All subscribes to every kind.
func (b *Bus) On(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit runs every handler registered for kind, then every handler
// registered for All.
func (b *Bus) Emit(ctx context.Context, kind Kind, p Payload) {
	b.runAll(ctx, kind, p, b.handlers[kind])
	if kind != All {
		b.runAll(ctx, kind, p, b.handlers[All])
	}
}

func (b *Bus) runAll(ctx context.Context, kind Kind, p Payload, hs []Handler) {
	for _, h := range hs {
		b.runOne(ctx, kind, p, h)
	}
}

func (b *Bus) runOne(ctx context.Context, kind Kind, p Payload, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("lifecycle handler panicked", "kind", kind, "channel", p.Channel, "panic", r)
		}
	}()
	h(ctx, kind, p)
}
