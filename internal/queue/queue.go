package queue

// ProducerValidationInterface is a *type constraint* for the write side of a
// single-slot queue. We never store a producer in this interface at runtime;
// it only makes the compiler check that every implementation has matching
// signatures.
type ProducerValidationInterface[T any] interface {
	// Enqueue stores the value if the slot is empty. If the slot is occupied
	// the value is handed back together with true.
	Enqueue(T) (T, bool)

	// EnqueueOverwrite stores the value unconditionally. If an unconsumed
	// value was displaced it is returned together with true.
	EnqueueOverwrite(T) (T, bool)

	// IsEmpty reports whether the slot was empty at the time of the call.
	IsEmpty() bool
}

// ConsumerValidationInterface is the read-side counterpart of
// ProducerValidationInterface.
type ConsumerValidationInterface[T any] interface {
	// Dequeue removes and returns the stored value, or an empty T and false
	// if the slot is empty. It must never block on an empty slot.
	Dequeue() (T, bool)

	// IsEmpty reports whether the slot was empty at the time of the call.
	IsEmpty() bool
}

// PeekerValidationInterface is implemented by consumers that can read the
// stored value without removing it. Not every implementation can do this
// atomically, so it is kept apart from ConsumerValidationInterface.
type PeekerValidationInterface[T any] interface {
	Peek() (T, bool)
}

// SplitterValidationInterface ensures a queue hands out exactly one producer
// and one consumer of the matching element type.
type SplitterValidationInterface[T any, P ProducerValidationInterface[T], C ConsumerValidationInterface[T]] interface {
	Split() (P, C)
}

// Compile-time enforcement that a queue, its producer and its consumer agree
// on T. Call it with a typed nil or a fresh queue from a test.
func EnforceSplit[T any, P ProducerValidationInterface[T], C ConsumerValidationInterface[T], Q SplitterValidationInterface[T, P, C]](q Q) {
}
