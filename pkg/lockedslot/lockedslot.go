package lockedslot

import (
	"errors"
	"sync"
)

// ErrAlreadySplit is the panic value of a second call to LockedQueue.Split.
var ErrAlreadySplit = errors.New("lockedslot: queue already split")

// LockedQueue is a single-slot queue where every operation takes a mutex.
// It has the same surface as the lock-free slot and serves as the lock-based
// reference point in benchmarks.
type LockedQueue[T any] struct {
	mu    sync.Mutex
	full  bool
	split bool
	value T
}

func New[T any]() *LockedQueue[T] {
	return &LockedQueue[T]{}
}

// Split returns the producer and consumer. It panics on a second call.
func (q *LockedQueue[T]) Split() (*Producer[T], *Consumer[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.split {
		panic(ErrAlreadySplit)
	}
	q.split = true
	return &Producer[T]{q: q}, &Consumer[T]{q: q}
}

func (q *LockedQueue[T]) isEmpty() bool {
	q.mu.Lock()
	empty := !q.full
	q.mu.Unlock()
	return empty
}

type Producer[T any] struct {
	q *LockedQueue[T]
}

func (p *Producer[T]) Enqueue(val T) (T, bool) {
	q := p.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return val, true
	}
	q.value = val
	q.full = true
	var zero T
	return zero, false
}

func (p *Producer[T]) EnqueueOverwrite(val T) (old T, displaced bool) {
	q := p.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		old, displaced = q.value, true
	}
	q.value = val
	q.full = true
	return old, displaced
}

func (p *Producer[T]) IsEmpty() bool {
	return p.q.isEmpty()
}

type Consumer[T any] struct {
	q *LockedQueue[T]
}

func (c *Consumer[T]) Dequeue() (val T, ok bool) {
	q := c.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.full {
		return val, false
	}
	val = q.value
	var zero T
	q.value = zero
	q.full = false
	return val, true
}

func (c *Consumer[T]) Peek() (val T, ok bool) {
	q := c.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.full {
		return val, false
	}
	return q.value, true
}

func (c *Consumer[T]) IsEmpty() bool {
	return c.q.isEmpty()
}
