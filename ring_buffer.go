package jobsched

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
)

const (
	// DefaultRingCapacity is used when NewRingBuffer gets a non-positive size.
	DefaultRingCapacity = 1024

	ringSpins          = 64
	ringBackoffInitial = time.Microsecond
	ringBackoffMax     = time.Millisecond
)

type producerCursor struct {
	_   cachePad
	pos atomic.Uint64
	_   cachePad
}

// RingBuffer is a bounded multi-producer single-consumer queue of *T.
//
// Any number of goroutines may Enqueue. Exactly one goroutine may call
// TryDequeue. A nil slot means free. Producers take positions from a
// shared counter and publish into slot pos mod capacity; the consumer reads
// positions in order.
type RingBuffer[T any] struct {
	slots    []atomic.Pointer[T]
	producer producerCursor

	// consumer is owned by the single reader.
	consumer uint64
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer[T]{
		slots: make([]atomic.Pointer[T], capacity),
	}
}

// Cap returns the number of slots.
func (r *RingBuffer[T]) Cap() int { return len(r.slots) }

// Enqueue stores item, waiting while the buffer is full. It returns
// ErrNilItem for a nil item and never gives up otherwise.
func (r *RingBuffer[T]) Enqueue(item *T) error {
	return r.EnqueueContext(context.Background(), item)
}

// EnqueueContext is Enqueue bounded by ctx. When ctx ends before a slot
// frees up the returned error wraps both ErrBufferFull and ctx.Err().
//
// ctx only bounds the wait for a position. Once a position is claimed the
// item is always published, because the consumer reads positions in order
// and an abandoned one would stall it for good.
func (r *RingBuffer[T]) EnqueueContext(ctx context.Context, item *T) error {
	if item == nil {
		return ErrNilItem
	}

	for range ringSpins {
		if r.tryClaim(item) {
			return nil
		}
		runtime.Gosched()
	}

	bo := boff.New(ringBackoffInitial, ringBackoffMax, time.Now().UnixNano())
	for {
		if r.tryClaim(item) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrBufferFull, err)
		}
		t := time.NewTimer(bo.Next())
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %w", ErrBufferFull, ctx.Err())
		}
	}
}

// tryClaim takes the next position if its slot is free. It returns false
// only when the buffer is full.
//
// Positions are handed out by a 64-bit counter, so a claimed position is
// owned by exactly one producer. A producer that stalls between claim and
// store can find its slot refilled a lap later; it then waits for the
// consumer to free it again.
func (r *RingBuffer[T]) tryClaim(item *T) bool {
	for {
		pos := r.producer.pos.Load()
		slot := &r.slots[pos%uint64(len(r.slots))]
		if slot.Load() != nil {
			return false
		}
		if !r.producer.pos.CompareAndSwap(pos, pos+1) {
			statRingCASMiss()
			continue
		}
		r.publish(slot, item)
		statRingClaim()
		return true
	}
}

// publish stores item into a claimed slot. The slot is only taken when a
// later lap got there first; the wait ends once the consumer frees it.
func (r *RingBuffer[T]) publish(slot *atomic.Pointer[T], item *T) {
	for range ringSpins {
		if slot.CompareAndSwap(nil, item) {
			return
		}
		runtime.Gosched()
	}
	bo := boff.New(ringBackoffInitial, ringBackoffMax, time.Now().UnixNano())
	for !slot.CompareAndSwap(nil, item) {
		time.Sleep(bo.Next())
	}
}

// TryDequeue removes the item under the consumer cursor. It returns false
// when that slot is empty. Only one goroutine may call it.
func (r *RingBuffer[T]) TryDequeue() (*T, bool) {
	slot := &r.slots[r.consumer%uint64(len(r.slots))]
	item := slot.Load()
	if item == nil {
		return nil, false
	}
	slot.Store(nil)
	r.consumer++
	return item, true
}
