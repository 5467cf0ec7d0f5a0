package udp

import (
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// TesterPacket is a datagram injected into, or captured from, a TesterConn
type TesterPacket struct {
	From *Addr
	To   *Addr
	Data []byte

	// Size overrides the size Receive reports when non zero, it simulates a transport that breaks its contract
	Size int
}

func (p *TesterPacket) Copy() *TesterPacket {
	n := &TesterPacket{
		From: p.From.Copy(),
		To:   p.To.Copy(),
		Data: make([]byte, len(p.Data)),
		Size: p.Size,
	}

	copy(n.Data, p.Data)
	return n
}

// TesterConn is an in memory Conn. Packets handed to Inject are returned by Poll and Receive in order, packets given
// to Send can be collected with Get. Like a real socket it reuses the Addr returned from Receive.
type TesterConn struct {
	Addr   *Addr
	Remote *Addr

	RxPackets chan *TesterPacket // Packets to receive
	TxPackets chan *TesterPacket // Packets transmitted

	l        *logrus.Logger
	pending  *TesterPacket
	from     Addr
	closed   atomic.Bool
	closedCh chan struct{}
	polls    atomic.Int64
}

var _ Conn = &TesterConn{}

func NewTesterConn(l *logrus.Logger, depth int) *TesterConn {
	if depth < 1 {
		depth = 1
	}

	return &TesterConn{
		RxPackets: make(chan *TesterPacket, depth),
		TxPackets: make(chan *TesterPacket, depth),
		l:         l,
		from:      Addr{IP: make(net.IP, 0, net.IPv6len)},
		closedCh:  make(chan struct{}),
	}
}

// Inject queues p to be received, blocking while RxPackets is full
func (u *TesterConn) Inject(p *TesterPacket) {
	u.l.WithField("from", p.From).WithField("dataLen", len(p.Data)).Debug("Tester receiving injected packet")
	u.RxPackets <- p
}

// Get pulls a packet that was sent through the conn. If block is false it returns nil when nothing was sent.
func (u *TesterConn) Get(block bool) *TesterPacket {
	if block {
		return <-u.TxPackets
	}

	select {
	case p := <-u.TxPackets:
		return p
	default:
		return nil
	}
}

// Backlog is the number of injected packets that have not been polled yet
func (u *TesterConn) Backlog() int {
	return len(u.RxPackets)
}

// Polls returns how many times Poll has been called
func (u *TesterConn) Polls() int64 {
	return u.polls.Load()
}

// Closed is closed once Close has been called
func (u *TesterConn) Closed() <-chan struct{} {
	return u.closedCh
}

// ReceiveAddr returns the Addr that Receive hands out and overwrites on every call
func (u *TesterConn) ReceiveAddr() *Addr {
	return &u.from
}

func (u *TesterConn) Bind(addr *Addr) error {
	if u.closed.Load() {
		return net.ErrClosed
	}
	u.Addr = addr.Copy()
	return nil
}

func (u *TesterConn) Connect(addr *Addr) error {
	if u.closed.Load() {
		return net.ErrClosed
	}
	u.Remote = addr.Copy()
	if u.Addr == nil {
		u.Addr = NewAddr(net.IPv4(127, 0, 0, 1), 0)
	}
	return nil
}

func (u *TesterConn) Send(addr *Addr, b []byte) error {
	if u.closed.Load() {
		return net.ErrClosed
	}

	to := addr
	if u.Remote != nil {
		to = u.Remote
	}

	p := &TesterPacket{
		From: u.Addr.Copy(),
		To:   to.Copy(),
		Data: make([]byte, len(b)),
	}
	copy(p.Data, b)

	u.TxPackets <- p
	return nil
}

func (u *TesterConn) Poll() (bool, error) {
	u.polls.Add(1)
	if u.closed.Load() {
		return false, net.ErrClosed
	}

	if u.pending != nil {
		return true, nil
	}

	select {
	case p := <-u.RxPackets:
		u.pending = p
		return true, nil
	default:
		return false, nil
	}
}

func (u *TesterConn) Receive(b []byte) (int, *Addr, error) {
	p := u.pending
	if p == nil {
		return 0, nil, ErrNoMessage
	}
	u.pending = nil

	n := copy(b, p.Data)
	if p.Size != 0 {
		n = p.Size
	}

	if p.From != nil {
		u.from.IP = append(u.from.IP[:0], p.From.IP...)
		u.from.Port = p.From.Port
	}
	return n, &u.from, nil
}

func (u *TesterConn) LocalAddr() (*Addr, error) {
	if u.Addr == nil {
		return nil, ErrNotBound
	}
	return u.Addr.Copy(), nil
}

func (u *TesterConn) Close() error {
	if u.closed.CompareAndSwap(false, true) {
		close(u.closedCh)
	}
	return nil
}
