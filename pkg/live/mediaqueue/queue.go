// Package mediaqueue paces outbound media onto a live session.
package mediaqueue

import (
	"context"
	"sync"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// Item is one queued payload awaiting transmission.
type Item struct {
	Payload    types.Payload
	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO. Get suspends until an item is available.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	waiters []chan T
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Put appends v, or hands it straight to the oldest blocked Get.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- v
		return
	}
	q.items = append(q.items, v)
}

// Get returns the head item, waiting for one if the queue is empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()
		return v, nil
	}
	w := make(chan T, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case v := <-w:
		return v, nil
	case <-ctx.Done():
		q.mu.Lock()
		removed := q.removeWaiter(w)
		q.mu.Unlock()
		if !removed {
			// Put already handed us an item; keep it at the head.
			v := <-w
			q.pushFront(v)
		}
		var zero T
		return zero, ctx.Err()
	}
}

// Clear drops every queued item without delivering it.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) removeWaiter(w chan T) bool {
	for i, c := range q.waiters {
		if c == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue[T]) pushFront(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]T{v}, q.items...)
}
