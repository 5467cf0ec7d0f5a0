package ring

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newAt creates a buffer whose positions start at pos, as if pos items had already passed through it
func newAt[T any](t *testing.T, capacity int, pos uint64) *Buffer[T] {
	b, err := New[T](capacity)
	require.NoError(t, err)

	b.enqueuePos.Store(pos)
	b.dequeuePos.Store(pos)
	for p := pos; p < pos+uint64(capacity); p++ {
		b.slots[p&b.mask].sequence.Store(p)
	}
	return b
}

func TestNew(t *testing.T) {
	for _, c := range []int{-4, 0, 1, 3, 6, 100, 1023} {
		b, err := New[int](c)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, "capacity %d", c)
		assert.Nil(t, b)
	}

	for _, c := range []int{2, 4, 16, 1024, 1 << 16} {
		b, err := New[int](c)
		require.NoError(t, err, "capacity %d", c)
		assert.Equal(t, c, b.Cap())
		assert.Equal(t, 0, b.Len())
		for i := range b.slots {
			assert.Equal(t, uint64(i), b.slots[i].sequence.Load())
		}
	}

	assert.Panics(t, func() { MustNew[int](3) })
	assert.NotPanics(t, func() { MustNew[int](8) })
}

func TestBuffer_RoundTrip(t *testing.T) {
	b := MustNew[string](4)

	for _, v := range []string{"A", "B", "C", "D"} {
		assert.True(t, b.TryEnqueue(v))
	}
	assert.Equal(t, 4, b.Len())
	assert.False(t, b.TryEnqueue("E"))

	for _, expected := range []string{"A", "B", "C", "D"} {
		v, ok := b.TryDequeue()
		assert.True(t, ok)
		assert.Equal(t, expected, v)
	}

	v, ok := b.TryDequeue()
	assert.False(t, ok)
	assert.Equal(t, "", v)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_FullDoesNotMutate(t *testing.T) {
	b := MustNew[int](8)
	for i := 0; i < 8; i++ {
		require.True(t, b.TryEnqueue(i))
	}

	enq, deq := b.enqueuePos.Load(), b.dequeuePos.Load()
	seqs := make([]uint64, len(b.slots))
	for i := range b.slots {
		seqs[i] = b.slots[i].sequence.Load()
	}

	for i := 0; i < 3; i++ {
		assert.False(t, b.TryEnqueue(100+i))
	}

	assert.Equal(t, enq, b.enqueuePos.Load())
	assert.Equal(t, deq, b.dequeuePos.Load())
	for i := range b.slots {
		assert.Equal(t, seqs[i], b.slots[i].sequence.Load())
		assert.Equal(t, i, b.slots[i].value)
	}
}

func TestBuffer_EmptyDoesNotMutate(t *testing.T) {
	b := MustNew[int](4)
	require.True(t, b.TryEnqueue(1))
	_, ok := b.TryDequeue()
	require.True(t, ok)

	enq, deq := b.enqueuePos.Load(), b.dequeuePos.Load()
	for i := 0; i < 3; i++ {
		_, ok = b.TryDequeue()
		assert.False(t, ok)
	}
	assert.Equal(t, enq, b.enqueuePos.Load())
	assert.Equal(t, deq, b.dequeuePos.Load())
}

func TestBuffer_DequeueClearsSlot(t *testing.T) {
	b := MustNew[*int](2)
	v := 42
	require.True(t, b.TryEnqueue(&v))

	got, ok := b.TryDequeue()
	require.True(t, ok)
	assert.Same(t, &v, got)
	for i := range b.slots {
		assert.Nil(t, b.slots[i].value)
	}
}

func TestBuffer_SequencesAdvanceByLap(t *testing.T) {
	b := MustNew[int](4)
	require.True(t, b.TryEnqueue(1))
	assert.Equal(t, uint64(1), b.slots[0].sequence.Load())

	_, ok := b.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint64(4), b.slots[0].sequence.Load())
}

func TestBuffer_Wraparound(t *testing.T) {
	// Start a few items before the 64bit positions overflow and push several laps through
	b := newAt[int](t, 4, math.MaxUint64-5)

	next := 0
	expected := 0
	for lap := 0; lap < 5; lap++ {
		for i := 0; i < 3; i++ {
			require.True(t, b.TryEnqueue(next))
			next++
		}
		assert.Equal(t, 3, b.Len())

		for i := 0; i < 3; i++ {
			v, ok := b.TryDequeue()
			require.True(t, ok)
			assert.Equal(t, expected, v)
			expected++
		}
		assert.Equal(t, 0, b.Len())
	}

	// Full detection still works on the far side of the overflow
	for i := 0; i < 4; i++ {
		require.True(t, b.TryEnqueue(i))
	}
	assert.False(t, b.TryEnqueue(4))
	assert.Equal(t, 4, b.Len())
	assert.Less(t, b.enqueuePos.Load(), uint64(100))
}

func TestBuffer_FIFO(t *testing.T) {
	const total = 100_000
	b := MustNew[int](64)

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < total; i++ {
			b.Enqueue(i)
		}
		return nil
	})

	got := make([]int, 0, total)
	g.Go(func() error {
		for len(got) < total {
			got = append(got, b.Dequeue())
		}
		return nil
	})

	require.NoError(t, g.Wait())
	for i, v := range got {
		if !assert.Equal(t, i, v) {
			break
		}
	}
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_MPMC(t *testing.T) {
	const (
		producers   = 4
		consumers   = 4
		perProducer = 10_000
		total       = producers * perProducer
	)

	b := MustNew[int](16)
	seen := make([]atomic.Bool, total)
	var received atomic.Int64
	var duplicates atomic.Int64
	done := make(chan struct{})

	// Watch the raw positions while the test runs, occupancy must stay within [0, capacity]
	monitor := make(chan error, 1)
	go func() {
		defer close(monitor)
		for {
			select {
			case <-done:
				return
			default:
			}

			d := b.dequeuePos.Load()
			e := b.enqueuePos.Load()
			if int64(e-d) < 0 {
				monitor <- assert.AnError
				return
			}

			e = b.enqueuePos.Load()
			d = b.dequeuePos.Load()
			if int64(e-d) > int64(b.Cap()) {
				monitor <- assert.AnError
				return
			}
			runtime.Gosched()
		}
	}()

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				for !b.TryEnqueue(v) {
					runtime.Gosched()
				}
			}
			return nil
		})
	}

	for c := 0; c < consumers; c++ {
		g.Go(func() error {
			for received.Load() < total {
				v, ok := b.TryDequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				if seen[v].Swap(true) {
					duplicates.Add(1)
				}
				received.Add(1)
			}
			return nil
		})
	}

	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatalf("timed out, received %d/%d", received.Load(), total)
	}

	close(done)
	assert.NoError(t, <-monitor, "occupancy left [0, capacity]")
	assert.Equal(t, int64(total), received.Load())
	assert.Zero(t, duplicates.Load())
	for i := range seen {
		if !assert.True(t, seen[i].Load(), "value %d was lost", i) {
			break
		}
	}
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_EnqueueWaitsForSpace(t *testing.T) {
	b := MustNew[int](2, WithBackoff(SpinBackoff))
	require.True(t, b.TryEnqueue(1))
	require.True(t, b.TryEnqueue(2))

	var enqueued atomic.Bool
	go func() {
		b.Enqueue(3)
		enqueued.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, enqueued.Load())

	v, ok := b.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Eventually(t, enqueued.Load, time.Second, time.Millisecond)
	assert.Equal(t, 2, b.Dequeue())
	assert.Equal(t, 3, b.Dequeue())
}

func TestBuffer_ContextVariants(t *testing.T) {
	b := MustNew[int](2, WithBackoff(SleepBackoff(time.Millisecond)))
	require.True(t, b.TryEnqueue(1))
	require.True(t, b.TryEnqueue(2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.EnqueueContext(ctx, 3), context.DeadlineExceeded)
	assert.Equal(t, 2, b.Len())

	v, err := b.DequeueContext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.NoError(t, b.EnqueueContext(context.Background(), 3))

	assert.Equal(t, 2, b.Dequeue())
	assert.Equal(t, 3, b.Dequeue())

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	v, err = b.DequeueContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, v)
}

func TestExponentialBackoff(t *testing.T) {
	bo := ExponentialBackoff(2, time.Millisecond, 4*time.Millisecond)

	start := time.Now()
	bo(0)
	bo(1)
	assert.Less(t, time.Since(start), time.Millisecond*50, "spins should not sleep")

	start = time.Now()
	bo(10)
	assert.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond)
}
