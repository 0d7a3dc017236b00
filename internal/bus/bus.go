// Package bus provides bounded in-order delivery queues and a fan-out hub.
// A slow consumer can never block a producer: pushes to a full queue fail and
// the hub reports which subscribers overflowed so the caller can drop them.
package bus

import "sync"

// Queue is a bounded FIFO. Closing it is safe concurrently with pushes; the
// consumer drains whatever was accepted before the close.
type Queue[T any] struct {
	mu     sync.Mutex
	c      chan T
	closed bool
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{c: make(chan T, capacity)}
}

// TryPush enqueues without blocking. It reports false when the queue is full
// or closed.
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	select {
	case q.c <- v:
		return true
	default:
		return false
	}
}

// C is the consumer side; it is closed by Close after the final accepted
// element.
func (q *Queue[T]) C() <-chan T {
	return q.c
}

func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.c)
}

// Hub fans values out to registered queues.
type Hub[T any] struct {
	mu   sync.Mutex
	subs map[*Queue[T]]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Queue[T]]struct{})}
}

func (h *Hub[T]) Register(q *Queue[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[q] = struct{}{}
}

func (h *Hub[T]) Unregister(q *Queue[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, q)
}

// Broadcast pushes v to every registered queue and returns the queues that
// could not accept it. Overflowed queues are unregistered and closed; it is
// the caller's job to tell their consumers why.
func (h *Hub[T]) Broadcast(v T) []*Queue[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	var overflowed []*Queue[T]
	for q := range h.subs {
		if !q.TryPush(v) {
			overflowed = append(overflowed, q)
		}
	}
	for _, q := range overflowed {
		delete(h.subs, q)
		q.Close()
	}
	return overflowed
}

// Len reports the number of registered queues.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
