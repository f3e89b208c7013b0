package testbench

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/valyala/fastrand"

	slotqueue "github.com/i5heu/GoSlotQueue/internal/queue"
)

// Mode selects which producer operation the harness exercises.
type Mode string

const (
	// ModeEnqueue retries Enqueue until each value is accepted.
	ModeEnqueue Mode = "enqueue"
	// ModeOverwrite always calls EnqueueOverwrite.
	ModeOverwrite Mode = "overwrite"
	// ModeMixed picks EnqueueOverwrite with probability OverwriteRatio and a
	// single Enqueue attempt otherwise.
	ModeMixed Mode = "mixed"
)

// ParseMode maps a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeEnqueue, ModeOverwrite, ModeMixed:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Config describes one stress run. There is always exactly one producer and
// one consumer.
type Config struct {
	Mode           Mode
	OverwriteRatio float64 // only used by ModeMixed, in [0, 1]
}

// PayloadWords is the number of words stamped into every Payload.
const PayloadWords = 16

// recentWindow is how many observed sequence numbers are kept for reports.
const recentWindow = 32

// Payload is the value sent through the queue. Every word carries Seq, so a
// copy that overlapped a write is detected by words that disagree.
type Payload struct {
	Seq   uint64
	Words [PayloadWords]uint64
}

// NewPayload returns a payload stamped with seq.
func NewPayload(seq uint64) Payload {
	p := Payload{Seq: seq}
	for i := range p.Words {
		p.Words[i] = seq
	}
	return p
}

// Torn reports whether the payload was read while partially written.
func (p Payload) Torn() bool {
	for _, w := range p.Words {
		if w != p.Seq {
			return true
		}
	}
	return false
}

// Result holds the counters of one run.
type Result struct {
	Accepted   uint64 // values the queue took ownership of
	Rejected   uint64 // values handed back by Enqueue
	Displaced  uint64 // values handed back by EnqueueOverwrite
	Consumed   uint64 // values returned by Dequeue
	Torn       uint64 // payloads whose words disagreed, on either side
	OutOfOrder uint64 // consumer saw a Seq not greater than the previous one
	Elapsed    time.Duration

	// Recent holds the last observed sequence numbers at the first violation.
	Recent []uint64
}

// Conserved reports whether every accepted value was either consumed or
// handed back as displaced.
func (r Result) Conserved() bool {
	return r.Accepted == r.Consumed+r.Displaced
}

// Valid reports whether the run saw no torn reads, no reordering and no lost
// or duplicated values.
func (r Result) Valid() bool {
	return r.Torn == 0 && r.OutOfOrder == 0 && r.Conserved()
}

// RunTimedTest runs one producer goroutine and one consumer goroutine against
// the given handles for testDuration. Once the duration expires the producer
// stops and the consumer drains the slot, so the counters are exact.
func RunTimedTest[P slotqueue.ProducerValidationInterface[Payload], C slotqueue.ConsumerValidationInterface[Payload]](
	prod P,
	cons C,
	cfg Config,
	testDuration time.Duration,
) Result {

	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	// productionDone is set to 1 when the test duration expires,
	// producerExited once the producer has made its last call.
	var productionDone, producerExited int32

	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&productionDone, 1)
	}()

	var (
		prodRes Result
		consRes Result
		wg      sync.WaitGroup
	)
	threshold := uint32(cfg.OverwriteRatio * 1000)

	start := time.Now()
	wg.Add(2)

	// Producer.
	go func() {
		defer wg.Done()
		defer atomic.StoreInt32(&producerExited, 1)

		for seq := uint64(1); atomic.LoadInt32(&productionDone) == 0; seq++ {
			v := NewPayload(seq)

			overwrite := cfg.Mode == ModeOverwrite ||
				(cfg.Mode == ModeMixed && fastrand.Uint32n(1000) < threshold)
			if overwrite {
				old, displaced := prod.EnqueueOverwrite(v)
				prodRes.Accepted++
				if displaced {
					prodRes.Displaced++
					if old.Torn() {
						prodRes.Torn++
					}
				}
				continue
			}

			for {
				back, rejected := prod.Enqueue(v)
				if !rejected {
					prodRes.Accepted++
					break
				}
				prodRes.Rejected++
				if back.Seq != seq || back.Torn() {
					prodRes.Torn++
				}
				if cfg.Mode == ModeMixed || atomic.LoadInt32(&productionDone) == 1 {
					break
				}
				runtime.Gosched()
			}
		}
	}()

	// Consumer.
	go func() {
		defer wg.Done()

		recent := queue.New()
		var last uint64
		observe := func(v Payload) {
			consRes.Consumed++

			recent.Add(v.Seq)
			if recent.Length() > recentWindow {
				recent.Remove()
			}

			violated := false
			if v.Torn() {
				consRes.Torn++
				violated = true
			}
			if v.Seq <= last {
				consRes.OutOfOrder++
				violated = true
			}
			last = v.Seq

			if violated && consRes.Recent == nil {
				consRes.Recent = make([]uint64, recent.Length())
				for i := range consRes.Recent {
					consRes.Recent[i] = recent.Get(i).(uint64)
				}
			}
		}

		for {
			if v, ok := cons.Dequeue(); ok {
				observe(v)
				continue
			}
			if atomic.LoadInt32(&producerExited) == 1 {
				// The producer is gone; one more look catches its last value.
				v, ok := cons.Dequeue()
				if !ok {
					return
				}
				observe(v)
				continue
			}
			runtime.Gosched()
		}
	}()

	wg.Wait()

	return Result{
		Accepted:   prodRes.Accepted,
		Rejected:   prodRes.Rejected,
		Displaced:  prodRes.Displaced,
		Consumed:   consRes.Consumed,
		Torn:       prodRes.Torn + consRes.Torn,
		OutOfOrder: consRes.OutOfOrder,
		Elapsed:    time.Since(start),
		Recent:     consRes.Recent,
	}
}
