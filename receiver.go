package threadsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/ring"
	"github.com/slackhq/threadsock/udp"
	"golang.org/x/time/rate"
)

type receiverState int32

const (
	receiverRunning receiverState = iota
	receiverClosing
	receiverStopped
)

func (s receiverState) String() string {
	switch s {
	case receiverRunning:
		return "running"
	case receiverClosing:
		return "closing"
	case receiverStopped:
		return "stopped"
	default:
		return fmt.Sprintf("receiverState(%d)", int32(s))
	}
}

// receiver moves datagrams from the transport into the packet ring on its own goroutine. It is the only producer of
// packets and the only consumer of the block pool.
type receiver struct {
	l         *logrus.Logger
	conn      udp.Conn
	pool      *BlockPool
	packets   *ring.Buffer[Packet]
	closed    *atomic.Bool
	ctx       context.Context
	idleSleep time.Duration
	m         *socketMetrics

	// fullWarn limits how often a saturated packet ring is logged
	fullWarn *rate.Limiter

	state atomic.Int32
	done  chan struct{}
}

func (r *receiver) State() receiverState {
	return receiverState(r.state.Load())
}

func (r *receiver) run() {
	defer func() {
		if v := recover(); v != nil {
			r.l.WithField("panic", v).Error("Receiver panicked, closing the transport")
			r.shutdown()
		}
		r.state.Store(int32(receiverStopped))
		close(r.done)
	}()

	for {
		if r.closed.Load() {
			r.shutdown()
			return
		}

		ok, err := r.conn.Poll()
		if err == nil && ok {
			err = r.receiveOne()
			if err == nil {
				continue
			}
		}

		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				r.l.Debug("Transport closed underneath the receiver, stopping")
				return
			}

			r.m.RxError()
			r.l.WithError(err).Error("Failed to read from the transport")
		}

		time.Sleep(r.idleSleep)
	}
}

// shutdown closes the transport, this happens on the receiver so a Receive is never in flight while closing
func (r *receiver) shutdown() {
	if !r.state.CompareAndSwap(int32(receiverRunning), int32(receiverClosing)) {
		return
	}

	if err := r.conn.Close(); err != nil {
		r.l.WithError(err).Error("Failed to close the transport")
	}
}

func (r *receiver) receiveOne() error {
	b := r.pool.Acquire()
	n, addr, err := r.conn.Receive(b)
	if err != nil {
		r.pool.Release(b)
		return err
	}

	if n <= 0 || n > len(b) {
		r.m.InvalidSize()
		r.pool.Release(b)
		r.l.WithField("size", n).WithField("from", addr).Warn("Transport returned an invalid receive size, dropping the packet")
		return nil
	}

	p := Packet{Block: b, Size: n, EndPoint: addr.Copy()}
	r.m.Rx(n)

	if r.packets.TryEnqueue(p) {
		return nil
	}

	r.m.BufferFull()
	if r.fullWarn.Allow() {
		r.l.WithField("bufferSize", r.packets.Cap()).
			Warn("Receive buffer full, increase threaded.buffer_size to avoid stalling the receiver")
	}

	// Wait for the consumer to make room, only a Close can give up on the packet
	if err := r.packets.EnqueueContext(r.ctx, p); err != nil {
		r.pool.Release(b)
	}
	return nil
}
