package udp

import "errors"

// MTU is the largest datagram the transports in this package will read
const MTU = 9001

var (
	ErrNoMessage     = errors.New("no message has been polled")
	ErrNotBound      = errors.New("socket is not bound or connected")
	ErrAlreadyActive = errors.New("socket is already bound or connected")
)

// Conn is a datagram socket. Everything but Poll may block the caller.
type Conn interface {
	Bind(addr *Addr) error
	Connect(addr *Addr) error
	Close() error

	// Send writes b to addr, addr is ignored by connected sockets
	Send(addr *Addr, b []byte) error

	// Poll reports whether a datagram can be received without blocking
	Poll() (bool, error)

	// Receive copies the next datagram into b and returns its size and source. The returned Addr belongs to the Conn
	// and may be overwritten by the next call to Receive.
	Receive(b []byte) (int, *Addr, error)

	LocalAddr() (*Addr, error)
}

type NoopConn struct{}

var _ Conn = NoopConn{}

func (NoopConn) Bind(_ *Addr) error {
	return nil
}
func (NoopConn) Connect(_ *Addr) error {
	return nil
}
func (NoopConn) Close() error {
	return nil
}
func (NoopConn) Send(_ *Addr, _ []byte) error {
	return nil
}
func (NoopConn) Poll() (bool, error) {
	return false, nil
}
func (NoopConn) Receive(_ []byte) (int, *Addr, error) {
	return 0, nil, ErrNoMessage
}
func (NoopConn) LocalAddr() (*Addr, error) {
	return &Addr{}, nil
}
