package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	DefaultBatch       = 64
	DefaultPollTimeout = time.Millisecond
)

// batchConn is satisfied by both ipv4.PacketConn and ipv6.PacketConn
type batchConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

type StdConfig struct {
	// Batch is the number of datagrams read from the kernel per Poll
	Batch int

	// PollTimeout bounds how long Poll may wait for a datagram on platforms that can not check readiness up front
	PollTimeout time.Duration
}

// StdConn is a Conn backed by the operating system's UDP stack. Poll reads up to Batch datagrams in one go and
// Receive hands them out one at a time. Poll and Receive must be called from a single goroutine, Send is safe to use
// concurrently with them.
type StdConn struct {
	l           *logrus.Logger
	batch       int
	pollTimeout time.Duration

	uc     *net.UDPConn
	bc     batchConn
	sysFd  uintptr
	isV4   bool
	remote *Addr
	closed atomic.Bool

	msgs []ipv4.Message
	n    int
	next int
	from Addr
}

var _ Conn = &StdConn{}

func NewStdConn(l *logrus.Logger, cfg StdConfig) *StdConn {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	msgs := make([]ipv4.Message, cfg.Batch)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, MTU)}
	}

	return &StdConn{
		l:           l,
		batch:       cfg.Batch,
		pollTimeout: cfg.PollTimeout,
		msgs:        msgs,
		from:        Addr{IP: make(net.IP, 0, net.IPv6len)},
	}
}

// NewStdConnFromConfig reads listen.batch and listen.poll_timeout from c
func NewStdConnFromConfig(l *logrus.Logger, c *config.C) *StdConn {
	return NewStdConn(l, StdConfig{
		Batch:       c.GetInt("listen.batch", DefaultBatch),
		PollTimeout: c.GetDuration("listen.poll_timeout", DefaultPollTimeout),
	})
}

func (u *StdConn) Bind(addr *Addr) error {
	if u.uc != nil {
		return ErrAlreadyActive
	}

	lc := NewListenConfig()
	pc, err := lc.ListenPacket(context.TODO(), "udp", addr.String())
	if err != nil {
		return err
	}

	uc, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("unexpected PacketConn: %T %#v", pc, pc)
	}

	return u.setConn(uc)
}

func (u *StdConn) Connect(addr *Addr) error {
	if u.uc != nil {
		return ErrAlreadyActive
	}

	uc, err := net.DialUDP("udp", nil, addr.UDPAddr())
	if err != nil {
		return err
	}

	u.remote = addr.Copy()
	return u.setConn(uc)
}

func (u *StdConn) setConn(uc *net.UDPConn) error {
	rc, err := uc.SyscallConn()
	if err != nil {
		uc.Close()
		return fmt.Errorf("failed to open udp socket: %w", err)
	}

	err = rc.Control(func(fd uintptr) {
		u.sysFd = fd
	})
	if err != nil {
		uc.Close()
		return fmt.Errorf("failed to get udp fd: %w", err)
	}

	la, ok := uc.LocalAddr().(*net.UDPAddr)
	u.isV4 = ok && la.IP.To4() != nil
	if u.isV4 {
		u.bc = ipv4.NewPacketConn(uc)
	} else {
		u.bc = ipv6.NewPacketConn(uc)
	}

	u.uc = uc
	u.l.WithField("local", uc.LocalAddr()).WithField("batch", u.batch).Debug("UDP socket opened")
	return nil
}

func (u *StdConn) Poll() (bool, error) {
	if u.closed.Load() {
		return false, net.ErrClosed
	}

	if u.uc == nil {
		return false, ErrNotBound
	}

	if u.next < u.n {
		return true, nil
	}

	ready, err := u.readable()
	if err != nil || !ready {
		return false, err
	}

	if err := u.uc.SetReadDeadline(time.Now().Add(u.pollTimeout)); err != nil {
		return false, err
	}

	n, err := u.readBatch()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, err
	}

	u.n, u.next = n, 0
	return n > 0, nil
}

func (u *StdConn) Receive(b []byte) (int, *Addr, error) {
	if u.next >= u.n {
		return 0, nil, ErrNoMessage
	}

	msg := &u.msgs[u.next]
	u.next++

	n := copy(b, msg.Buffers[0][:msg.N])
	switch a := msg.Addr.(type) {
	case *net.UDPAddr:
		u.from.setFrom(a)
	default:
		if u.remote == nil {
			return n, nil, fmt.Errorf("unexpected source address: %T %#v", msg.Addr, msg.Addr)
		}
		u.from.setFrom(u.remote.UDPAddr())
	}

	return n, &u.from, nil
}

func (u *StdConn) Send(addr *Addr, b []byte) error {
	if u.closed.Load() {
		return net.ErrClosed
	}

	if u.uc == nil {
		return ErrNotBound
	}

	if u.remote != nil {
		_, err := u.uc.Write(b)
		return err
	}

	if addr == nil {
		return errors.New("unconnected socket requires a destination address")
	}

	_, err := u.uc.WriteToUDP(b, addr.UDPAddr())
	return err
}

// SendBatch writes every buffer in bs to addr with as few system calls as the platform allows
func (u *StdConn) SendBatch(addr *Addr, bs [][]byte) error {
	if u.uc == nil {
		return ErrNotBound
	}

	var dst net.Addr
	if u.remote == nil {
		if addr == nil {
			return errors.New("unconnected socket requires a destination address")
		}
		dst = addr.UDPAddr()
	}

	ms := make([]ipv4.Message, len(bs))
	for i := range bs {
		ms[i].Buffers = [][]byte{bs[i]}
		ms[i].Addr = dst
	}

	for len(ms) > 0 {
		n, err := u.writeBatch(ms)
		if err != nil {
			return err
		}
		ms = ms[n:]
	}
	return nil
}

func (u *StdConn) LocalAddr() (*Addr, error) {
	if u.uc == nil {
		return nil, ErrNotBound
	}

	switch v := u.uc.LocalAddr().(type) {
	case *net.UDPAddr:
		return NewAddrFromUDPAddr(v), nil
	default:
		return nil, fmt.Errorf("LocalAddr returned: %#v", v)
	}
}

func (u *StdConn) Close() error {
	if !u.closed.CompareAndSwap(false, true) || u.uc == nil {
		return nil
	}
	return u.uc.Close()
}

// ReloadConfig applies listen.read_buffer and listen.write_buffer
func (u *StdConn) ReloadConfig(c *config.C) {
	if u.uc == nil {
		return
	}

	b := c.GetInt("listen.read_buffer", 0)
	if b > 0 {
		err := u.setRecvBuffer(b)
		if err == nil {
			s, err := u.getRecvBuffer()
			if err == nil {
				u.l.WithField("size", s).Info("listen.read_buffer was set")
			} else {
				u.l.WithError(err).Warn("Failed to get listen.read_buffer")
			}
		} else {
			u.l.WithError(err).Error("Failed to set listen.read_buffer")
		}
	}

	b = c.GetInt("listen.write_buffer", 0)
	if b > 0 {
		err := u.setSendBuffer(b)
		if err == nil {
			s, err := u.getSendBuffer()
			if err == nil {
				u.l.WithField("size", s).Info("listen.write_buffer was set")
			} else {
				u.l.WithError(err).Warn("Failed to get listen.write_buffer")
			}
		} else {
			u.l.WithError(err).Error("Failed to set listen.write_buffer")
		}
	}
}
