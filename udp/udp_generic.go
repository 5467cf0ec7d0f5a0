//go:build !linux || android

// udp_generic relies on read deadlines alone, without a readiness check Poll may wait up to listen.poll_timeout.
// This means it can be used on platforms like Darwin and Windows.

package udp

import (
	"errors"
	"net"

	"golang.org/x/net/ipv4"
)

func NewListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}

func (u *StdConn) readable() (bool, error) {
	return true, nil
}

// readBatch reads a single datagram, batching is only available on linux
func (u *StdConn) readBatch() (int, error) {
	n, ua, err := u.uc.ReadFromUDP(u.msgs[0].Buffers[0])
	if err != nil {
		return 0, err
	}

	u.msgs[0].N = n
	u.msgs[0].Addr = ua
	return 1, nil
}

func (u *StdConn) writeBatch(ms []ipv4.Message) (int, error) {
	for i := range ms {
		var err error
		if u.remote != nil {
			_, err = u.uc.Write(ms[i].Buffers[0])
		} else {
			_, err = u.uc.WriteTo(ms[i].Buffers[0], ms[i].Addr)
		}
		if err != nil {
			return i, err
		}
	}
	return len(ms), nil
}

func (u *StdConn) setRecvBuffer(n int) error {
	return u.uc.SetReadBuffer(n)
}

func (u *StdConn) setSendBuffer(n int) error {
	return u.uc.SetWriteBuffer(n)
}

func (u *StdConn) getRecvBuffer() (int, error) {
	return 0, errors.New("reading the receive buffer size is not supported on this platform")
}

func (u *StdConn) getSendBuffer() (int, error) {
	return 0, errors.New("reading the send buffer size is not supported on this platform")
}

func NewUDPStatsEmitter(_ []*StdConn) func() {
	// No UDP stats for non-linux
	return func() {}
}
