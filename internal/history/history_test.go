package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestStoreAppendsAndGetHistoryFiltersBySince(t *testing.T) {
	r := NewRingStore(100, time.Hour, nil)
	ctx := context.Background()

	m1, err := r.Store(ctx, "news", "update", json.RawMessage(`{"a":1}`), "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	_, err = r.Store(ctx, "news", "update", json.RawMessage(`{"a":2}`), "")
	if err != nil {
		t.Fatal(err)
	}

	all, err := r.GetHistory(ctx, "news", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}

	sinceFirst, err := r.GetHistory(ctx, "news", m1.Timestamp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinceFirst) != 1 {
		t.Fatalf("expected 1 message strictly after m1, got %d", len(sinceFirst))
	}
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	r := NewRingStore(100, time.Hour, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := r.Store(ctx, "news", "update", json.RawMessage(`{}`), ""); err != nil {
			t.Fatal(err)
		}
	}
	out, err := r.GetHistory(ctx, "news", time.Time{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages under limit, got %d", len(out))
	}
}

func TestTrimByMaxMessagesEvictsOldest(t *testing.T) {
	var evicted []Message
	r := NewRingStore(2, time.Hour, func(m Message) { evicted = append(evicted, m) })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Store(ctx, "news", "update", json.RawMessage(`{}`), ""); err != nil {
			t.Fatal(err)
		}
	}

	out, err := r.GetHistory(ctx, "news", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected window trimmed to 2, got %d", len(out))
	}
	if len(evicted) != 1 {
		t.Fatalf("expected 1 eviction callback, got %d", len(evicted))
	}
}

func TestTrimByTTLDropsOldEntries(t *testing.T) {
	r := NewRingStore(100, 15*time.Millisecond, nil)
	ctx := context.Background()

	if _, err := r.Store(ctx, "news", "update", json.RawMessage(`{}`), ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := r.Store(ctx, "news", "update", json.RawMessage(`{}`), ""); err != nil {
		t.Fatal(err)
	}

	out, err := r.GetHistory(ctx, "news", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the aged-out entry to be trimmed, got %d messages", len(out))
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	r := NewRingStore(100, time.Hour, nil)
	ctx := context.Background()
	if _, err := r.Store(ctx, "news", "update", json.RawMessage(`{}`), ""); err != nil {
		t.Fatal(err)
	}
	out, err := r.GetHistory(ctx, "sports", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected sports channel to have no history, got %d", len(out))
	}
}
