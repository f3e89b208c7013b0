package main

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/GoSlotQueue/internal/queue"
	"github.com/i5heu/GoSlotQueue/internal/testbench"
)

// =============================================================================
// Race Condition Detection Test Suite
// =============================================================================
//
// One producer goroutine and one consumer goroutine hammer the same slot.
// Every payload carries its sequence number in all of its words, so:
//
// 1. Torn reads - a copy that overlapped a write has words that disagree.
//
// 2. Lost or duplicated values - every accepted value is either consumed or
//    handed back as displaced, exactly once.
//
// 3. Livelock - the consumer keeps making progress while the producer
//    overwrites as fast as it can.
//
// Test size configuration via environment variables:
//   SLOT_STRESS_ITERATIONS - values sent per stress test (default: 200000)
//   SLOT_STRESS_ROUNDS     - repetitions of each stress test (default: 3)
//
// =============================================================================

// getEnvInt reads an integer from an environment variable with a default value.
func getEnvInt(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}

func getStressIterations() int {
	if testing.Short() {
		return 10_000
	}
	return getEnvInt("SLOT_STRESS_ITERATIONS", 200_000)
}

func getStressRounds() int {
	return getEnvInt("SLOT_STRESS_ROUNDS", 3)
}

func logTestStart(t *testing.T, testName string, impl Implementation) {
	t.Helper()
	t.Logf("Starting %s (impl: %q, features: %v)", testName, impl.name, impl.features)
}

// drainUntil runs the consumer loop until the producer has exited and the
// slot is empty, calling observe for every value.
func drainUntil(cons testConsumer, producerDone *atomic.Bool, wd *progressWatchdog, observe func(payload)) {
	for {
		if v, ok := cons.Dequeue(); ok {
			observe(v)
			wd.Progress()
			continue
		}
		if producerDone.Load() {
			v, ok := cons.Dequeue()
			if !ok {
				return
			}
			observe(v)
			continue
		}
		runtime.Gosched()
	}
}

// TestConcurrentOverwriteNoTornReads mixes Enqueue and EnqueueOverwrite on
// the producer side against a consumer that drains continuously.
func TestConcurrentOverwriteNoTornReads(t *testing.T) {
	withAllQueues(t, []string{"Overwrite"}, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "ConcurrentOverwriteNoTornReads", impl)
		wd := newWatchdog(t, "ConcurrentOverwriteNoTornReads")
		wd.Start()
		defer wd.Stop()

		n := getStressIterations()
		for round := 0; round < getStressRounds(); round++ {
			prod, cons := impl.newQueue()

			var (
				accepted, displaced, tornDisplaced uint64
				producerDone                       atomic.Bool
				wg                                 sync.WaitGroup
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer producerDone.Store(true)
				for i := 1; i <= n; i++ {
					v := testbench.NewPayload(uint64(i))
					if i%4 == 0 {
						if _, rejected := prod.Enqueue(v); !rejected {
							accepted++
						}
						continue
					}
					old, ok := prod.EnqueueOverwrite(v)
					accepted++
					if ok {
						displaced++
						if old.Torn() {
							tornDisplaced++
						}
					}
				}
			}()

			var consumed, torn uint64
			drainUntil(cons, &producerDone, wd, func(v payload) {
				consumed++
				if v.Torn() {
					torn++
				}
			})
			wg.Wait()

			require.Zero(t, torn, "round %d: consumer saw torn values", round)
			require.Zero(t, tornDisplaced, "round %d: producer got torn displaced values", round)
			require.Equal(t, accepted, consumed+displaced, "round %d: values lost or duplicated", round)
		}
	})
}

// TestConcurrentEnqueueRetryDeliversAll retries rejected values, so every
// value must arrive exactly once.
func TestConcurrentEnqueueRetryDeliversAll(t *testing.T) {
	withAllQueues(t, nil, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "ConcurrentEnqueueRetryDeliversAll", impl)
		wd := newWatchdog(t, "ConcurrentEnqueueRetryDeliversAll")
		wd.Start()
		defer wd.Stop()

		n := getStressIterations()
		prod, cons := impl.newQueue()
		seen := make([]uint8, n+1)

		var producerDone atomic.Bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer producerDone.Store(true)
			for i := 1; i <= n; i++ {
				v := testbench.NewPayload(uint64(i))
				for {
					back, rejected := prod.Enqueue(v)
					if !rejected {
						break
					}
					if back != v {
						t.Errorf("rejected value was modified: got seq %d, want %d", back.Seq, v.Seq)
						return
					}
					runtime.Gosched()
				}
			}
		}()

		drainUntil(cons, &producerDone, wd, func(v payload) {
			if v.Torn() || v.Seq == 0 || v.Seq > uint64(n) {
				t.Errorf("corrupt value with seq %d", v.Seq)
				return
			}
			seen[v.Seq]++
		})
		wg.Wait()

		for i := 1; i <= n; i++ {
			if seen[i] != 1 {
				t.Fatalf("value %d seen %d times (expected 1)", i, seen[i])
			}
		}
	})
}

// TestConcurrentPeekDuringOverwrite peeks while the producer keeps replacing
// the value. The slot never becomes empty, so every Peek must succeed.
func TestConcurrentPeekDuringOverwrite(t *testing.T) {
	withAllQueues(t, []string{"Peek", "Overwrite"}, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "ConcurrentPeekDuringOverwrite", impl)
		prod, cons := impl.newQueue()
		peeker := cons.(queue.PeekerValidationInterface[payload])
		prod.Enqueue(testbench.NewPayload(0))

		n := getStressIterations()
		var producerDone atomic.Bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer producerDone.Store(true)
			for i := 1; i <= n; i++ {
				prod.EnqueueOverwrite(testbench.NewPayload(uint64(i)))
			}
		}()

		var last uint64
		for !producerDone.Load() {
			v, ok := peeker.Peek()
			require.True(t, ok)
			require.False(t, v.Torn(), "torn peek at seq %d", v.Seq)
			require.GreaterOrEqual(t, v.Seq, last)
			last = v.Seq
		}
		wg.Wait()

		v, ok := cons.Dequeue()
		require.True(t, ok)
		assert.Equal(t, uint64(n), v.Seq)
	})
}

// TestConsumerProgressUnderOverwriteStorm makes sure Dequeue keeps getting
// values while the producer overwrites in a tight loop. The producer yields
// every stormYieldEvery overwrites so the consumer is scheduled even when
// GOMAXPROCS is 1; the count only depends on the queue handing values over.
func TestConsumerProgressUnderOverwriteStorm(t *testing.T) {
	const stormYieldEvery = 64

	withAllQueues(t, []string{"Overwrite"}, func(t *testing.T, impl Implementation) {
		skipLockFreeUnderRace(t, impl)
		logTestStart(t, "ConsumerProgressUnderOverwriteStorm", impl)
		wd := newWatchdog(t, "ConsumerProgressUnderOverwriteStorm")
		wd.Start()
		defer wd.Stop()
		prod, cons := impl.newQueue()

		var (
			stop atomic.Bool
			wg   sync.WaitGroup
		)
		defer stop.Store(true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); !stop.Load(); seq++ {
				prod.EnqueueOverwrite(testbench.NewPayload(seq))
				if seq%stormYieldEvery == 0 {
					runtime.Gosched()
				}
			}
		}()

		const want = 1000
		var got int
		var last uint64
		deadline := time.Now().Add(30 * time.Second)
		for got < want && time.Now().Before(deadline) {
			if v, ok := cons.Dequeue(); ok {
				require.False(t, v.Torn())
				require.Greater(t, v.Seq, last, "consumer saw an older value")
				last = v.Seq
				got++
				wd.Progress()
				continue
			}
			runtime.Gosched()
		}
		stop.Store(true)
		wg.Wait()

		assert.Equal(t, want, got, "consumer starved by overwrite storm (GOMAXPROCS=%d)", runtime.GOMAXPROCS(0))
	})
}

// TestOverwriteStormSingleProc runs the storm pinned to one P, where the
// consumer only runs when the producer yields.
func TestOverwriteStormSingleProc(t *testing.T) {
	prev := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(prev)
	TestConsumerProgressUnderOverwriteStorm(t)
}
