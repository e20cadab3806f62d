package channel

import (
	"context"
	"sync"
	"testing"

	"pulsehub/internal/authz"
	"pulsehub/internal/events"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	a := authz.New()
	if err := a.Register("private-user.{userId}", func(socketID, userID string, params map[string]string) (authz.Result, error) {
		if params["userId"] == userID {
			return authz.Allowed(), nil
		}
		return authz.Denied(), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.Register("presence-chat.{roomId}", func(socketID, userID string, params map[string]string) (authz.Result, error) {
		return authz.AllowedWithMember(map[string]string{"id": socketID}), nil
	}); err != nil {
		t.Fatal(err)
	}
	return New(a, events.New(nil))
}

func TestClassOf(t *testing.T) {
	cases := map[string]Class{
		"news":              Public,
		"private-user.1":    Private,
		"presence-chat.1":   Presence,
	}
	for name, want := range cases {
		if got := ClassOf(name); got != want {
			t.Errorf("ClassOf(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPublicSubscribeNeedsNoRule(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	if _, err := r.Subscribe(ctx, "s1", "", "news", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPrivateSubscribeAuthDeny(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	if _, err := r.Subscribe(ctx, "s1", "123", "private-user.123", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Subscribe(ctx, "s1", "123", "private-user.999", nil); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestMembershipSymmetryAndEmptyChannelRemoved(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Subscribe(ctx, "s1", "", "news", nil); err != nil {
		t.Fatal(err)
	}
	ch, ok := r.Get("news")
	if !ok || !ch.Has("s1") {
		t.Fatal("expected s1 subscribed to news")
	}

	r.Unsubscribe(ctx, "s1", "news")
	if _, ok := r.Get("news"); ok {
		t.Fatal("invariant 3 violated: empty channel should not remain in registry")
	}
}

func TestPresenceParity(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Subscribe(ctx, "a", "", "presence-chat.lobby", nil); err != nil {
		t.Fatal(err)
	}
	res, err := r.Subscribe(ctx, "b", "", "presence-chat.lobby", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.PresenceHash == nil {
		t.Fatal("expected presence hash on presence-channel subscribe result")
	}
	if len(res.PresenceHash) != 2 {
		t.Fatalf("expected 2 members, got %d", len(res.PresenceHash))
	}

	ch, _ := r.Get("presence-chat.lobby")
	members := ch.Members()
	subs := ch.Subscribers()
	if len(members) != len(subs) {
		t.Fatalf("presence parity violated: members=%d subscribers=%d", len(members), len(subs))
	}
}

func TestConcurrentSubscribeUnsubscribeNoEmptyChannelLeak(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "s"
			_, _ = r.Subscribe(ctx, id, "", "news", nil)
			r.Unsubscribe(ctx, id, "news")
		}(i)
	}
	wg.Wait()

	if ch, ok := r.Get("news"); ok && ch.Len() == 0 {
		t.Fatal("invariant 3 violated under concurrency")
	}
}
