package buffered

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadySplit is the panic value of a second call to BufferedQueue.Split.
var ErrAlreadySplit = errors.New("buffered: queue already split")

// BufferedQueue is a single-slot queue backed by a Go channel of capacity 1.
// It is the baseline the lock-free slot is measured against.
type BufferedQueue[T any] struct {
	ch    chan T
	split atomic.Bool
}

func New[T any]() *BufferedQueue[T] {
	// Capacity must be exactly 1: a zero-capacity channel is a rendezvous,
	// not a slot.
	return &BufferedQueue[T]{
		ch: make(chan T, 1),
	}
}

// Split returns the producer and consumer. It panics on a second call.
func (q *BufferedQueue[T]) Split() (*Producer[T], *Consumer[T]) {
	if q.split.Swap(true) {
		panic(ErrAlreadySplit)
	}
	return &Producer[T]{ch: q.ch}, &Consumer[T]{ch: q.ch}
}

type Producer[T any] struct {
	ch chan T
}

func (p *Producer[T]) Enqueue(val T) (T, bool) {
	select {
	case p.ch <- val:
		var zero T
		return zero, false
	default:
		return val, true
	}
}

// EnqueueOverwrite drains an unconsumed value before sending. With a single
// consumer the channel is empty after the drain, so the loop runs at most
// twice.
func (p *Producer[T]) EnqueueOverwrite(val T) (old T, displaced bool) {
	for {
		select {
		case p.ch <- val:
			return old, displaced
		default:
		}
		select {
		case old = <-p.ch:
			displaced = true
		default:
		}
	}
}

func (p *Producer[T]) IsEmpty() bool {
	return len(p.ch) == 0
}

type Consumer[T any] struct {
	ch chan T
}

func (c *Consumer[T]) Dequeue() (val T, ok bool) {
	select {
	case val = <-c.ch:
		return val, true
	default:
		return val, false
	}
}

func (c *Consumer[T]) IsEmpty() bool {
	return len(c.ch) == 0
}
