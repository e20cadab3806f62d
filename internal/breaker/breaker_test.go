package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		ResetTimeout:     20 * time.Millisecond,
		SuccessThreshold: 2,
		CallTimeout:      50 * time.Millisecond,
	}
}

func TestTripsOpenAfterFailureThreshold(t *testing.T) {
	b := New("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	var breakerErr *Error
	if !errors.As(err, &breakerErr) {
		t.Fatalf("expected *Error when open, got %v", err)
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b := New("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}

	time.Sleep(30 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := New("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	time.Sleep(30 * time.Millisecond)

	ok := func(ctx context.Context) error { return nil }
	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), ok)

	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed", b.State())
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	b := New("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	time.Sleep(30 * time.Millisecond)

	_ = b.Execute(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("state = %v, want Open after half-open failure", b.State())
	}
}

func TestCallTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 5 * time.Millisecond
	b := New("svc", cfg)
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), slow)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open after repeated timeouts", b.State())
	}
}

func TestManualResetReturnsToClosed(t *testing.T) {
	b := New("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after manual reset", b.State())
	}
}

func TestManagerGetIsStablePerName(t *testing.T) {
	m := NewManager(testConfig())
	a1 := m.Get("svc-a")
	a2 := m.Get("svc-a")
	if a1 != a2 {
		t.Fatal("expected the same breaker instance for the same name")
	}
	b1 := m.Get("svc-b")
	if a1 == b1 {
		t.Fatal("expected distinct breakers for distinct names")
	}
}
