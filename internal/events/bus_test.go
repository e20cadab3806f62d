package events

import (
	"context"
	"testing"
)

func TestEmitRunsHandlersInOrderAndSurvivesPanic(t *testing.T) {
	b := New(nil)

	var order []string
	b.On(Created, func(ctx context.Context, kind Kind, p Payload) {
		order = append(order, "first")
		panic("boom")
	})
	b.On(Created, func(ctx context.Context, kind Kind, p Payload) {
		order = append(order, "second")
	})

	b.Emit(context.Background(), Created, Payload{Channel: "news"})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("got %v", order)
	}
}

func TestEmitDispatchesToAllSubscribers(t *testing.T) {
	b := New(nil)

	var allFired, createdFired bool
	b.On(All, func(ctx context.Context, kind Kind, p Payload) { allFired = true })
	b.On(Created, func(ctx context.Context, kind Kind, p Payload) { createdFired = true })

	b.Emit(context.Background(), Created, Payload{})

	if !allFired || !createdFired {
		t.Fatalf("allFired=%v createdFired=%v", allFired, createdFired)
	}
}
