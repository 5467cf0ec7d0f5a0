package threadsock

import (
	"fmt"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/udp"
)

// SocketFactory creates the transports for a server or a client and knows which addresses they should use
type SocketFactory interface {
	CreateServerSocket() (udp.Conn, error)
	CreateClientSocket() (udp.Conn, error)
	BindAddr() (*udp.Addr, error)
	ConnectAddr() (*udp.Addr, error)
}

var _ SocketFactory = &udp.Factory{}

// ThreadedFactory wraps every conn created by Inner in a Socket. Addresses come straight from Inner.
type ThreadedFactory struct {
	Inner  SocketFactory
	Config SocketConfig

	l       *logrus.Logger
	created atomic.Int64
}

var _ SocketFactory = &ThreadedFactory{}

func NewThreadedFactory(l *logrus.Logger, inner SocketFactory, cfg SocketConfig) *ThreadedFactory {
	return &ThreadedFactory{Inner: inner, Config: cfg, l: l}
}

func NewThreadedFactoryFromConfig(l *logrus.Logger, inner SocketFactory, c *config.C) *ThreadedFactory {
	return NewThreadedFactory(l, inner, NewSocketConfigFromConfig(c))
}

func (f *ThreadedFactory) CreateServerSocket() (udp.Conn, error) {
	return f.NewServerSocket()
}

func (f *ThreadedFactory) CreateClientSocket() (udp.Conn, error) {
	return f.NewClientSocket()
}

// NewServerSocket is CreateServerSocket without hiding the Socket behind udp.Conn
func (f *ThreadedFactory) NewServerSocket() (*Socket, error) {
	conn, err := f.Inner.CreateServerSocket()
	if err != nil {
		return nil, err
	}
	return f.wrap("server", conn)
}

// NewClientSocket is CreateClientSocket without hiding the Socket behind udp.Conn
func (f *ThreadedFactory) NewClientSocket() (*Socket, error) {
	conn, err := f.Inner.CreateClientSocket()
	if err != nil {
		return nil, err
	}
	return f.wrap("client", conn)
}

func (f *ThreadedFactory) wrap(kind string, conn udp.Conn) (*Socket, error) {
	cfg := f.Config
	i := f.created.Add(1) - 1
	if cfg.Metrics != nil {
		cfg.Metrics = metrics.NewPrefixedChildRegistry(cfg.Metrics, fmt.Sprintf("threadsock.%s.%d.", kind, i))
	}

	s, err := NewSocket(f.l, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (f *ThreadedFactory) BindAddr() (*udp.Addr, error) {
	return f.Inner.BindAddr()
}

func (f *ThreadedFactory) ConnectAddr() (*udp.Addr, error) {
	return f.Inner.ConnectAddr()
}
