package threadsock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/ring"
	"github.com/slackhq/threadsock/udp"
	"golang.org/x/time/rate"
)

const (
	DefaultBufferSize    = 1024
	DefaultMaxPacketSize = 1300
	DefaultIdleSleep     = time.Millisecond
)

var (
	ErrClosed         = errors.New("socket closed")
	ErrNoPacket       = errors.New("receive called without a polled packet")
	ErrAlreadyStarted = errors.New("socket is already bound or connected")
)

type SocketConfig struct {
	// BufferSize is the capacity of the packet ring and the block pool, it must be a power of two
	BufferSize int

	// MaxPacketSize is the size of every receive block, longer datagrams are truncated by the transport
	MaxPacketSize int

	// IdleSleep is how long the receiver waits after finding nothing to read
	IdleSleep time.Duration

	// Backoff paces the receiver while it waits for room in a full packet ring
	Backoff ring.Backoff

	// Metrics is where counters and gauges are registered, nothing is recorded when nil
	Metrics metrics.Registry
}

// NewSocketConfigFromConfig reads the threaded section, missing keys keep their defaults
func NewSocketConfigFromConfig(c *config.C) SocketConfig {
	return SocketConfig{
		BufferSize:    c.GetInt("threaded.buffer_size", DefaultBufferSize),
		MaxPacketSize: c.GetInt("threaded.max_packet_size", DefaultMaxPacketSize),
		IdleSleep:     c.GetDuration("threaded.idle_sleep", DefaultIdleSleep),
	}
}

// Socket wraps a udp.Conn and reads from it on a dedicated goroutine. Received datagrams are handed over through a
// lock free ring so Poll and Receive never touch the transport. Poll and Receive are meant for a single consumer
// goroutine, Send may be used from anywhere the wrapped conn allows.
type Socket struct {
	l       *logrus.Logger
	conn    udp.Conn
	packets *ring.Buffer[Packet]
	pool    *BlockPool
	m       *socketMetrics

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	startLock sync.Mutex
	started   bool
	receiver  *receiver

	next    Packet
	hasNext bool
}

var _ udp.Conn = &Socket{}

func NewSocket(l *logrus.Logger, conn udp.Conn, cfg SocketConfig) (*Socket, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ring.DefaultBackoff
	}

	packets, err := ring.New[Packet](cfg.BufferSize, ring.WithBackoff(cfg.Backoff))
	if err != nil {
		return nil, err
	}

	pool, err := NewBlockPool(poolCapacity(cfg.BufferSize), cfg.MaxPacketSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		l:       l,
		conn:    conn,
		packets: packets,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.m = newSocketMetrics(cfg.Metrics, s)

	s.receiver = &receiver{
		l:         l,
		conn:      conn,
		pool:      pool,
		packets:   packets,
		closed:    &s.closed,
		ctx:       ctx,
		idleSleep: cfg.IdleSleep,
		m:         s.m,
		fullWarn:  rate.NewLimiter(rate.Every(time.Second), 1),
		done:      make(chan struct{}),
	}

	return s, nil
}

// Bind binds the transport to addr and starts receiving
func (s *Socket) Bind(addr *udp.Addr) error {
	return s.start(func() error { return s.conn.Bind(addr) })
}

// Connect connects the transport to addr and starts receiving
func (s *Socket) Connect(addr *udp.Addr) error {
	return s.start(func() error { return s.conn.Connect(addr) })
}

func (s *Socket) start(open func() error) error {
	s.startLock.Lock()
	defer s.startLock.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}

	if s.started {
		return ErrAlreadyStarted
	}

	if err := open(); err != nil {
		return err
	}

	s.started = true
	go s.receiver.run()
	return nil
}

// Poll reports whether a packet is ready for Receive. A packet that was polled but not received yet stays ready.
func (s *Socket) Poll() (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	if s.hasNext {
		return true, nil
	}

	p, ok := s.packets.TryDequeue()
	if !ok {
		return false, nil
	}

	s.next = p
	s.hasNext = true
	return true, nil
}

// Receive copies the polled packet into b and returns the copied size and its source. The packet is truncated when b
// is too small. The returned Addr belongs to the caller.
func (s *Socket) Receive(b []byte) (int, *udp.Addr, error) {
	if s.closed.Load() {
		return 0, nil, ErrClosed
	}

	if !s.hasNext {
		return 0, nil, ErrNoPacket
	}

	p := s.next
	s.next = Packet{}
	s.hasNext = false

	n := copy(b, p.Block[:p.Size])
	s.pool.Release(p.Block)
	return n, p.EndPoint, nil
}

func (s *Socket) Send(addr *udp.Addr, b []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.conn.Send(addr, b)
	s.m.Tx(len(b), err)
	return err
}

func (s *Socket) LocalAddr() (*udp.Addr, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.conn.LocalAddr()
}

// Close stops the socket without waiting. The receiver closes the transport once it notices, use Done to wait for
// that. A socket that was never bound or connected closes the transport right away.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.cancel()

	s.startLock.Lock()
	started := s.started
	s.startLock.Unlock()

	if started {
		return nil
	}

	r := s.receiver
	r.state.Store(int32(receiverStopped))
	close(r.done)
	return s.conn.Close()
}

// Done is closed once the transport has been closed and the receiver has stopped
func (s *Socket) Done() <-chan struct{} {
	return s.receiver.done
}

// Backlog is the number of received packets waiting to be polled
func (s *Socket) Backlog() int {
	return s.packets.Len()
}

func (s *Socket) BufferSize() int {
	return s.packets.Cap()
}

func (s *Socket) Pool() *BlockPool {
	return s.pool
}
