package runtime

import (
	"sync"
)

// SubQueue decouples a producer from one slow consumer. Values are queued
// in memory and handed to the consumer channel by a dispatcher goroutine.
// When maxQueued is positive the oldest queued values are dropped to make
// room, so a stalled consumer only ever sees the most recent values.
type SubQueue[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []T
	maxQueued int
	dropped   uint64
	closed    bool

	outCh  chan T // consumer reads from this
	paused bool   // gate dispatch until the initial value is sent

	done      chan struct{}
	closeOnce sync.Once
}

func NewSubQueue[T any](outBuf, maxQueued int) *SubQueue[T] {
	sq := &SubQueue[T]{
		outCh:     make(chan T, outBuf),
		maxQueued: maxQueued,
		paused:    true,
		done:      make(chan struct{}),
	}
	sq.cond = sync.NewCond(&sq.mu)
	go sq.dispatch()
	return sq
}

// Chan is the channel exposed to the subscriber.
func (sq *SubQueue[T]) Chan() <-chan T { return sq.outCh }

// Enqueue appends to the in-memory queue and wakes the dispatcher.
func (sq *SubQueue[T]) Enqueue(v T) {
	sq.mu.Lock()
	if !sq.closed {
		if sq.maxQueued > 0 && len(sq.queue) >= sq.maxQueued {
			n := len(sq.queue) - sq.maxQueued + 1
			sq.queue = append(sq.queue[:0], sq.queue[n:]...)
			sq.dropped += uint64(n)
		}
		sq.queue = append(sq.queue, v)
		sq.cond.Signal()
	}
	sq.mu.Unlock()
}

// Dropped reports how many values were discarded because the queue was full.
func (sq *SubQueue[T]) Dropped() uint64 {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.dropped
}

// SetPaused gates dispatching. Used to hold back live values while the
// initial value is delivered.
func (sq *SubQueue[T]) SetPaused(v bool) {
	sq.mu.Lock()
	sq.paused = v
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Close stops the dispatcher and closes the out channel. Safe to call more
// than once.
func (sq *SubQueue[T]) Close() {
	sq.mu.Lock()
	sq.closed = true
	sq.cond.Broadcast()
	sq.mu.Unlock()
	sq.closeOnce.Do(func() { close(sq.done) })
}

func (sq *SubQueue[T]) dispatch() {
	for {
		sq.mu.Lock()
		for !sq.closed && (sq.paused || len(sq.queue) == 0) {
			sq.cond.Wait()
		}
		if sq.closed {
			sq.mu.Unlock()
			close(sq.outCh)
			return
		}
		v := sq.queue[0]
		var zero T
		sq.queue[0] = zero
		sq.queue = sq.queue[1:]
		sq.mu.Unlock()

		// Blocks only on the channel buffer / reader, or until Close.
		select {
		case sq.outCh <- v:
		case <-sq.done:
			close(sq.outCh)
			return
		}
	}
}
