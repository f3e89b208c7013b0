package main

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/GoSlotQueue/internal/testbench"
)

// =============================================================================
// Ordering Tests
// =============================================================================
//
// With a single producer, sequence numbers enter the slot in increasing
// order. Whatever the consumer gets, and whatever EnqueueOverwrite hands back,
// must therefore also be increasing, and the two streams together must be
// exactly the accepted values.
// =============================================================================

// TestStrictOrderingSingleProducer validates that the consumer sees values in
// the order the producer enqueued them.
func TestStrictOrderingSingleProducer(t *testing.T) {
	withAllQueues(t, nil, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "StrictOrderingSingleProducer", impl)
		prod, cons := impl.newQueue()
		wd := newWatchdog(t, "StrictOrderingSingleProducer")
		wd.Start()
		defer wd.Stop()

		n := getStressIterations()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 1; i <= n; i++ {
				for {
					if _, rejected := prod.Enqueue(testbench.NewPayload(uint64(i))); !rejected {
						break
					}
					runtime.Gosched()
				}
				wd.Progress()
			}
		}()

		for want := uint64(1); want <= uint64(n); {
			v, ok := cons.Dequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			if v.Seq != want {
				t.Fatalf("ordering violation: expected seq %d, got %d", want, v.Seq)
			}
			want++
		}
		<-done

		assert.True(t, cons.IsEmpty(), "slot not empty after test")
	})
}

// TestOverwriteStreamsPartitionAccepted checks that consumed values and
// displaced values are each increasing and together cover every accepted
// value exactly once.
func TestOverwriteStreamsPartitionAccepted(t *testing.T) {
	withAllQueues(t, []string{"Overwrite"}, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "OverwriteStreamsPartitionAccepted", impl)
		prod, cons := impl.newQueue()
		wd := newWatchdog(t, "OverwriteStreamsPartitionAccepted")
		wd.Start()
		defer wd.Stop()

		n := getStressIterations()
		var (
			accepted     []uint64
			displaced    []uint64
			producerDone atomic.Bool
			wg           sync.WaitGroup
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer producerDone.Store(true)
			for i := 1; i <= n; i++ {
				seq := uint64(i)
				if i%5 == 0 {
					if _, rejected := prod.Enqueue(testbench.NewPayload(seq)); !rejected {
						accepted = append(accepted, seq)
					}
					continue
				}
				old, ok := prod.EnqueueOverwrite(testbench.NewPayload(seq))
				accepted = append(accepted, seq)
				if ok {
					displaced = append(displaced, old.Seq)
				}
			}
		}()

		var consumed []uint64
		drainUntil(cons, &producerDone, wd, func(v payload) {
			consumed = append(consumed, v.Seq)
		})
		wg.Wait()

		verifyMonotonicOrdering(t, "consumed", consumed)
		verifyMonotonicOrdering(t, "displaced", displaced)

		// Merge the two increasing streams; the result must be exactly accepted.
		merged := make([]uint64, 0, len(consumed)+len(displaced))
		i, j := 0, 0
		for i < len(consumed) || j < len(displaced) {
			switch {
			case j == len(displaced) || (i < len(consumed) && consumed[i] < displaced[j]):
				merged = append(merged, consumed[i])
				i++
			default:
				merged = append(merged, displaced[j])
				j++
			}
		}
		require.Equal(t, len(accepted), len(merged), "values lost or duplicated")
		for k := range accepted {
			if accepted[k] != merged[k] {
				t.Fatalf("mismatch at %d: accepted seq %d, delivered or displaced seq %d", k, accepted[k], merged[k])
			}
		}
	})
}

// verifyMonotonicOrdering checks that seqs is strictly increasing.
func verifyMonotonicOrdering(t *testing.T, label string, seqs []uint64) {
	t.Helper()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("%s stream not increasing at %d: %d after %d", label, i, seqs[i], seqs[i-1])
		}
	}
}
