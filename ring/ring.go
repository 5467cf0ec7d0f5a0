// Package ring provides a bounded, lock-free, multi-producer/multi-consumer queue.
//
// The queue is the sequence-numbered array design described by Dmitry Vyukov: every slot carries a sequence number
// that tells producers and consumers which lap of the ring currently owns it. Producers and consumers only ever
// contend on a single compare-and-swap of their own position counter.
package ring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ErrInvalidConfiguration is returned by New for a capacity it can not use
var ErrInvalidConfiguration = errors.New("invalid ring configuration")

type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// Buffer is a fixed capacity FIFO queue that is safe for any number of concurrent producers and consumers.
// The zero value is not usable, create one with New.
type Buffer[T any] struct {
	_          cpu.CacheLinePad
	enqueuePos atomic.Uint64
	_          cpu.CacheLinePad
	dequeuePos atomic.Uint64
	_          cpu.CacheLinePad

	mask    uint64
	slots   []slot[T]
	backoff Backoff
}

// Option configures a Buffer created by New
type Option func(*options)

type options struct {
	backoff Backoff
}

// WithBackoff sets the strategy used between attempts of Enqueue, Dequeue and their context variants.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		if b != nil {
			o.backoff = b
		}
	}
}

// New creates a Buffer that holds up to capacity items. capacity must be a power of two and at least 2.
func New[T any](capacity int, opts ...Option) (*Buffer[T], error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: capacity %d must be at least 2", ErrInvalidConfiguration, capacity)
	}

	if capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: capacity %d must be a power of two", ErrInvalidConfiguration, capacity)
	}

	o := options{backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Buffer[T]{
		mask:    uint64(capacity - 1),
		slots:   make([]slot[T], capacity),
		backoff: o.backoff,
	}

	for i := range b.slots {
		b.slots[i].sequence.Store(uint64(i))
	}

	return b, nil
}

// MustNew is like New but panics if the capacity is invalid.
func MustNew[T any](capacity int, opts ...Option) *Buffer[T] {
	b, err := New[T](capacity, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// TryEnqueue adds v to the tail of the queue. It returns false without modifying the queue if it is full.
func (b *Buffer[T]) TryEnqueue(v T) bool {
	for {
		pos := b.enqueuePos.Load()
		s := &b.slots[pos&b.mask]
		dif := int64(s.sequence.Load() - pos)

		switch {
		case dif == 0:
			if b.enqueuePos.CompareAndSwap(pos, pos+1) {
				s.value = v
				// The sequence store publishes the value, consumers load the sequence before reading it
				s.sequence.Store(pos + 1)
				return true
			}
		case dif < 0:
			// The consumer for the previous lap has not freed this slot yet
			return false
		}
		// Another producer claimed pos first, try again with a fresh position
	}
}

// TryDequeue removes the item at the head of the queue. ok is false if the queue is empty.
func (b *Buffer[T]) TryDequeue() (v T, ok bool) {
	for {
		pos := b.dequeuePos.Load()
		s := &b.slots[pos&b.mask]
		dif := int64(s.sequence.Load() - (pos + 1))

		switch {
		case dif == 0:
			if b.dequeuePos.CompareAndSwap(pos, pos+1) {
				v = s.value
				var zero T
				s.value = zero
				// Hand the slot to the producer of the next lap
				s.sequence.Store(pos + b.mask + 1)
				return v, true
			}
		case dif < 0:
			return v, false
		}
	}
}

// Enqueue adds v to the queue, waiting for space if it is full.
func (b *Buffer[T]) Enqueue(v T) {
	for attempt := 0; !b.TryEnqueue(v); attempt++ {
		b.backoff(attempt)
	}
}

// EnqueueContext adds v to the queue, waiting for space until ctx is done.
func (b *Buffer[T]) EnqueueContext(ctx context.Context, v T) error {
	for attempt := 0; !b.TryEnqueue(v); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.backoff(attempt)
	}
	return nil
}

// Dequeue removes the item at the head of the queue, waiting for one to arrive if the queue is empty.
func (b *Buffer[T]) Dequeue() T {
	for attempt := 0; ; attempt++ {
		if v, ok := b.TryDequeue(); ok {
			return v
		}
		b.backoff(attempt)
	}
}

// DequeueContext is like Dequeue but gives up when ctx is done.
func (b *Buffer[T]) DequeueContext(ctx context.Context) (T, error) {
	for attempt := 0; ; attempt++ {
		if v, ok := b.TryDequeue(); ok {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		b.backoff(attempt)
	}
}

// Len returns the number of queued items. The value is a snapshot and may be stale by the time it is used.
func (b *Buffer[T]) Len() int {
	deq := b.dequeuePos.Load()
	enq := b.enqueuePos.Load()

	n := int64(enq - deq)
	switch {
	case n < 0:
		return 0
	case n > int64(len(b.slots)):
		return len(b.slots)
	}
	return int(n)
}

// Cap returns the fixed capacity of the queue.
func (b *Buffer[T]) Cap() int {
	return len(b.slots)
}
