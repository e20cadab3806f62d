package ack

import (
	"context"
	"testing"
	"time"
)

func TestAcknowledgeResolvesPending(t *testing.T) {
	a := New(time.Second, 3, nil, false)
	defer a.Close()

	p := a.Register("m1")
	if !a.Acknowledge("m1") {
		t.Fatal("expected Acknowledge to find the pending entry")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := p.Wait(ctx)
	if !res.Acked || res.Err != nil {
		t.Fatalf("res = %+v", res)
	}
}

func TestAcknowledgeUnknownIDReturnsFalse(t *testing.T) {
	a := New(time.Second, 3, nil, false)
	defer a.Close()
	if a.Acknowledge("nonexistent") {
		t.Fatal("expected false for unknown messageId")
	}
}

func TestDisabledModeResolvesImmediately(t *testing.T) {
	a := New(time.Second, 3, nil, true)
	defer a.Close()

	p := a.Register("m1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res := p.Wait(ctx)
	if !res.Acked {
		t.Fatalf("expected immediate ack in disabled mode, got %+v", res)
	}
}

func TestRetryThenTimeoutAfterAttemptsExhausted(t *testing.T) {
	var retried []int
	timeout := 15 * time.Millisecond
	retryAttempts := 3
	a := New(timeout, retryAttempts, func(messageID string, attempt int) {
		retried = append(retried, attempt)
	}, false)
	defer a.Close()

	start := time.Now()
	p := a.Register("m1")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res := p.Wait(ctx)
	elapsed := time.Since(start)

	if res.Acked {
		t.Fatal("expected eventual timeout, not ack")
	}
	if res.Err == nil {
		t.Fatal("expected a timeout error")
	}
	// spec.md §9: rejection occurs after exactly retryAttempts*timeout wall
	// time, not (retryAttempts+1)*timeout.
	want := time.Duration(retryAttempts) * timeout
	if elapsed < want || elapsed > want+10*timeout {
		t.Fatalf("expected rejection around %v, took %v", want, elapsed)
	}
	if len(retried) != retryAttempts-1 {
		t.Fatalf("expected %d retry callbacks, got %d: %v", retryAttempts-1, len(retried), retried)
	}
}

func TestClearFailsAllPending(t *testing.T) {
	a := New(time.Minute, 3, nil, false)
	defer a.Close()

	p1 := a.Register("m1")
	p2 := a.Register("m2")
	a.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r1 := p1.Wait(ctx)
	r2 := p2.Wait(ctx)
	if r1.Acked || r2.Acked {
		t.Fatal("expected cleared futures to resolve unacked")
	}
}
