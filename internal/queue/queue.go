// Package queue provides a bounded FIFO with an explicit overflow policy.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue: closed")

// Policy decides what Push does when the queue is full.
type Policy int

const (
	// Block makes Push wait until a consumer frees a slot or ctx is done.
	Block Policy = iota
	// DropOldest discards the oldest queued item to make room for the new one.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "dropOldest"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses "block" or "dropOldest" (case-insensitive). Empty means Block.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "block":
		return Block, nil
	case "dropoldest", "drop-oldest":
		return DropOldest, nil
	}
	return Block, fmt.Errorf("queue: unknown policy %q", s)
}

// Queue is a bounded multi-producer multi-consumer FIFO.
// The zero value is not usable; use New.
type Queue[T any] struct {
	ch      chan T
	policy  Policy
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	onDrop  func(T)
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithDropHandler is called with every item discarded by DropOldest.
func WithDropHandler[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// New returns a queue holding at most size items. size < 1 is treated as 1.
func New[T any](size int, policy Policy, opts ...Option[T]) *Queue[T] {
	if size < 1 {
		size = 1
	}
	q := &Queue[T]{ch: make(chan T, size), policy: policy, done: make(chan struct{})}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues v according to the queue policy.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	if q.policy == DropOldest {
		for {
			select {
			case q.ch <- v:
				return nil
			default:
			}
			select {
			case old := <-q.ch:
				q.dropped.Add(1)
				if q.onDrop != nil {
					q.onDrop(old)
				}
			default:
				// a consumer emptied a slot in between; retry the send
			}
		}
	}

	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next item. It returns false once the queue is closed or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	select {
	case v := <-q.ch:
		return v, true
	case <-q.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// C exposes the receive side for select loops. It is never closed; use Done.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Done is closed by Close.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

// Close stops the queue. Pending items are abandoned.
func (q *Queue[T]) Close() { q.once.Do(func() { close(q.done) }) }

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped returns how many items DropOldest discarded so far.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
