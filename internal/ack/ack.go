// Package ack implements the acknowledger (spec.md §4.I): tracks pending
// message acknowledgments, retrying up to retryAttempts times with a
// per-attempt timeout, and resolving a future when the client acks or the
// retry budget is exhausted. A single sweeper goroutine walks a
// container/heap-ordered deadline queue rather than arming one time.Timer
// per pending message (spec.md §9 REDESIGN FLAGS: "rewrite as a sweeper
// consulting a priority queue"), grounded structurally on the teacher's
// single-goroutine-per-concern style (internal/websocket.Hub.Run's one
// select loop driving many clients).
package ack

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Result is what a Pending future resolves to.
type Result struct {
	Acked bool
	Err   error
}

// Pending is a future for one outstanding message.
type Pending struct {
	done chan Result
	once sync.Once
}

func newPending() *Pending {
	return &Pending{done: make(chan Result, 1)}
}

func (p *Pending) resolve(r Result) {
	p.once.Do(func() { p.done <- r })
}

// Wait blocks until the pending message is acked, times out past its
// retry budget, or ctx is cancelled.
func (p *Pending) Wait(ctx context.Context) Result {
	select {
	case r := <-p.done:
		return r
	case <-ctx.Done():
		return Result{Acked: false, Err: ctx.Err()}
	}
}

type item struct {
	messageID string
	attempts  int
	deadline  time.Time
	index     int
}

type deadlineQueue []*item

func (q deadlineQueue) Len() int            { return len(q) }
func (q deadlineQueue) Less(i, j int) bool  { return q[i].deadline.Before(q[j].deadline) }
func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *deadlineQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// RetryFn resends the payload identified by messageID for another attempt.
type RetryFn func(messageID string, attempt int)

// Acknowledger tracks pending acknowledgments.
type Acknowledger struct {
	timeout       time.Duration
	retryAttempts int
	retry         RetryFn
	disabled      bool

	mu      sync.Mutex
	pending map[string]*Pending
	items   map[string]*item
	queue   deadlineQueue

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

// New constructs an Acknowledger. When disabled is true, Register
// resolves immediately (spec.md §4.I: "Disabled mode resolves
// immediately").
func New(timeout time.Duration, retryAttempts int, retry RetryFn, disabled bool) *Acknowledger {
	a := &Acknowledger{
		timeout:       timeout,
		retryAttempts: retryAttempts,
		retry:         retry,
		disabled:      disabled,
		pending:       make(map[string]*Pending),
		items:         make(map[string]*item),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
	if !disabled {
		go a.sweepLoop()
	}
	return a
}

// Register starts tracking messageID and returns a future resolving true
// on ack, or failing with a timeout error after attempts*timeout wall
// time (spec.md §4.I).
func (a *Acknowledger) Register(messageID string) *Pending {
	p := newPending()
	if a.disabled {
		p.resolve(Result{Acked: true})
		return p
	}

	a.mu.Lock()
	a.pending[messageID] = p
	// attempts starts at 1: the initial send is attempt #1, so after
	// retryAttempts-1 retries the final attempt times out, and the future
	// is rejected, at retryAttempts*timeout wall time (spec.md §9,
	// invariant 5).
	it := &item{messageID: messageID, attempts: 1, deadline: time.Now().Add(a.timeout)}
	a.items[messageID] = it
	heap.Push(&a.queue, it)
	a.mu.Unlock()

	a.pokeSweeper()
	return p
}

// Acknowledge resolves the pending future for messageID. It returns false
// if no such pending entry exists.
func (a *Acknowledger) Acknowledge(messageID string) bool {
	a.mu.Lock()
	p, ok := a.pending[messageID]
	if ok {
		delete(a.pending, messageID)
		a.removeItem(messageID)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}
	p.resolve(Result{Acked: true})
	return true
}

// Clear fails every pending future with "cleared" and drops all timers.
func (a *Acknowledger) Clear() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]*Pending)
	a.items = make(map[string]*item)
	a.queue = nil
	a.mu.Unlock()

	for _, p := range pending {
		p.resolve(Result{Acked: false, Err: fmt.Errorf("cleared")})
	}
}

// Close stops the sweeper goroutine.
func (a *Acknowledger) Close() {
	a.once.Do(func() { close(a.stop) })
}

func (a *Acknowledger) removeItem(messageID string) {
	it, ok := a.items[messageID]
	if !ok {
		return
	}
	delete(a.items, messageID)
	if it.index >= 0 && it.index < len(a.queue) {
		heap.Remove(&a.queue, it.index)
	}
}

func (a *Acknowledger) pokeSweeper() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Acknowledger) sweepLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		a.mu.Lock()
		var next time.Time
		if len(a.queue) > 0 {
			next = a.queue[0].deadline
		}
		a.mu.Unlock()

		var wait time.Duration
		if next.IsZero() {
			wait = time.Hour
		} else {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-a.stop:
			return
		case <-a.wake:
			continue
		case <-timer.C:
			a.fireExpired()
		}
	}
}

func (a *Acknowledger) fireExpired() {
	now := time.Now()
	type expired struct {
		messageID string
		attempts  int
		retry     bool
	}
	var fired []expired

	a.mu.Lock()
	for len(a.queue) > 0 && !a.queue[0].deadline.After(now) {
		it := heap.Pop(&a.queue).(*item)
		if it.attempts < a.retryAttempts {
			it.attempts++
			it.deadline = now.Add(a.timeout)
			heap.Push(&a.queue, it)
			fired = append(fired, expired{messageID: it.messageID, attempts: it.attempts, retry: true})
		} else {
			delete(a.items, it.messageID)
			fired = append(fired, expired{messageID: it.messageID, attempts: it.attempts, retry: false})
		}
	}
	a.mu.Unlock()

	for _, f := range fired {
		if f.retry {
			if a.retry != nil {
				a.retry(f.messageID, f.attempts)
			}
			continue
		}
		a.mu.Lock()
		p, ok := a.pending[f.messageID]
		if ok {
			delete(a.pending, f.messageID)
		}
		a.mu.Unlock()
		if ok {
			p.resolve(Result{Acked: false, Err: fmt.Errorf("timeout after %d attempts", a.retryAttempts)})
		}
	}
}
