package udp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
)

var ErrNoConnectAddr = errors.New("connect is not configured")

// Factory creates StdConns configured from c and remembers them so socket options and stats can be applied to every
// conn it handed out.
type Factory struct {
	l *logrus.Logger
	c *config.C

	sync.Mutex
	conns []*StdConn
}

func NewFactory(l *logrus.Logger, c *config.C) *Factory {
	return &Factory{l: l, c: c}
}

func (f *Factory) CreateServerSocket() (Conn, error) {
	return f.newConn(), nil
}

func (f *Factory) CreateClientSocket() (Conn, error) {
	return f.newConn(), nil
}

func (f *Factory) newConn() *StdConn {
	u := NewStdConnFromConfig(f.l, f.c)

	f.Lock()
	f.conns = append(f.conns, u)
	f.Unlock()
	return u
}

// BindAddr is listen.host and listen.port, 0.0.0.0 and an ephemeral port when unset
func (f *Factory) BindAddr() (*Addr, error) {
	host := f.c.GetString("listen.host", "0.0.0.0")
	port := f.c.GetInt("listen.port", 0)
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("listen.port must be between 0 and 65535, got %d", port)
	}

	return NewAddrFromString(net.JoinHostPort(host, strconv.Itoa(port)))
}

// ConnectAddr is the host:port in connect
func (f *Factory) ConnectAddr() (*Addr, error) {
	s := f.c.GetString("connect", "")
	if s == "" {
		return nil, ErrNoConnectAddr
	}

	return NewAddrFromString(s)
}

// Conns returns every conn created so far
func (f *Factory) Conns() []*StdConn {
	f.Lock()
	defer f.Unlock()

	out := make([]*StdConn, len(f.conns))
	copy(out, f.conns)
	return out
}

// ReloadConfig applies the listen socket options to every conn
func (f *Factory) ReloadConfig(c *config.C) {
	for _, u := range f.Conns() {
		u.ReloadConfig(c)
	}
}
