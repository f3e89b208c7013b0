// Package singleslot implements a single-producer, single-consumer queue that
// holds at most one value.
//
// The queue is a single storage cell guarded by an atomic tri-state control
// word (empty, full, locked). Producer and Consumer never take a mutex: every
// operation is a compare-and-swap on the control word, and the only waits are
// short spins while the other side is inside its O(1) critical section.
//
//	q := singleslot.New[uint32]()
//	prod, cons := q.Split()
//
//	prod.Enqueue(50)          // accepted: (0, false)
//	prod.Enqueue(2)           // rejected: (2, true)
//	prod.EnqueueOverwrite(25) // displaced: (50, true)
//	cons.Dequeue()            // (25, true)
//	cons.Dequeue()            // (0, false)
package singleslot

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

// Control word states.
const (
	stateEmpty uint64 = iota
	stateFull
	stateLocked
)

// ErrAlreadySplit is the panic value of a second call to Queue.Split.
var ErrAlreadySplit = errors.New("singleslot: queue already split")

// Queue owns the slot. The zero value is an empty queue ready to be split.
type Queue[T any] struct {
	_     noCopy
	split atomix.Uint64
	_     cpu.CacheLinePad
	state atomix.Uint64 // stateEmpty, stateFull or stateLocked
	_     cpu.CacheLinePad
	value T // live only while state is stateFull or stateLocked
	_     cpu.CacheLinePad
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Split hands out the only Producer and the only Consumer of q.
// It panics with ErrAlreadySplit if called more than once.
func (q *Queue[T]) Split() (*Producer[T], *Consumer[T]) {
	if !q.split.CompareAndSwapAcqRel(0, 1) {
		panic(ErrAlreadySplit)
	}
	debug("queue split")
	return &Producer[T]{q: q}, &Consumer[T]{q: q}
}

// takeFull moves the slot from full to locked on behalf of the consumer.
// It returns false if the slot is empty and spins while the producer holds
// the lock.
func (q *Queue[T]) takeFull() bool {
	sw := spin.Wait{}
	for {
		switch q.state.LoadAcquire() {
		case stateEmpty:
			return false
		case stateFull:
			if q.state.CompareAndSwapAcqRel(stateFull, stateLocked) {
				return true
			}
			// lost to EnqueueOverwrite, re-evaluate
		default:
			sw.Once()
		}
	}
}

// Producer is the write side of a Queue. Exactly one exists per queue and it
// must only be used from one goroutine at a time.
type Producer[T any] struct {
	_ noCopy
	q *Queue[T]
}

// Enqueue stores v if the slot is empty.
// It makes a single attempt: when the slot is full (or momentarily locked by
// the consumer) v is handed back as (v, true) and the slot is left untouched.
// On success it returns (zero, false).
func (p *Producer[T]) Enqueue(v T) (T, bool) {
	q := p.q
	if !q.state.CompareAndSwapAcqRel(stateEmpty, stateLocked) {
		return v, true
	}
	q.value = v
	q.state.StoreRelease(stateFull)

	var zero T
	return zero, false
}

// EnqueueOverwrite stores v whether or not the slot is full.
// If an unconsumed value was displaced it is returned as (old, true),
// otherwise (zero, false). The call spins only while the consumer is moving
// a value out of the slot.
func (p *Producer[T]) EnqueueOverwrite(v T) (T, bool) {
	q := p.q
	sw := spin.Wait{}
	for {
		prev := q.state.LoadAcquire()
		if prev == stateLocked {
			sw.Once()
			continue
		}
		if !q.state.CompareAndSwapAcqRel(prev, stateLocked) {
			// Dequeue moved the slot first; retry with the fresh state.
			continue
		}

		var old T
		displaced := prev == stateFull
		if displaced {
			old = q.value
		}
		q.value = v
		q.state.StoreRelease(stateFull)

		if displaced {
			debug("overwrite displaced unconsumed value")
		}
		return old, displaced
	}
}

// IsEmpty reports whether the slot held no value at the time of the call.
func (p *Producer[T]) IsEmpty() bool {
	return p.q.state.LoadRelaxed() == stateEmpty
}

// Consumer is the read side of a Queue. Exactly one exists per queue and it
// must only be used from one goroutine at a time.
type Consumer[T any] struct {
	_ noCopy
	q *Queue[T]
}

// Dequeue removes and returns the stored value as (v, true), or (zero, false)
// if the slot is empty. It spins while a concurrent EnqueueOverwrite holds the
// slot, which lasts for a single move.
func (c *Consumer[T]) Dequeue() (T, bool) {
	q := c.q
	var zero T
	if !q.takeFull() {
		return zero, false
	}
	v := q.value
	q.value = zero
	q.state.StoreRelease(stateEmpty)
	return v, true
}

// Peek returns a copy of the stored value without removing it.
// The copy is shallow: pointers, slices and maps inside T are shared with the
// value still in the slot.
func (c *Consumer[T]) Peek() (T, bool) {
	q := c.q
	if !q.takeFull() {
		var zero T
		return zero, false
	}
	v := q.value
	q.state.StoreRelease(stateFull)
	return v, true
}

// IsEmpty reports whether the slot held no value at the time of the call.
func (c *Consumer[T]) IsEmpty() bool {
	return c.q.state.LoadRelaxed() == stateEmpty
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
