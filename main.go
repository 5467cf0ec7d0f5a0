package threadsock

import (
	"errors"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/udp"
	"github.com/slackhq/threadsock/util"
	"go.yaml.in/yaml/v3"
)

type m = map[string]any

// Main builds a threaded socket from c and binds it, or connects it when connect is set. With configTest everything
// is validated and nothing is opened, the returned Control is nil.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger) (*Control, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	handler, err := NewHandlerFromConfig(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the handler", nil, err)
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	sc := NewSocketConfigFromConfig(c)
	if statsEnabled(c) {
		sc.Metrics = metrics.DefaultRegistry
	}

	inner := udp.NewFactory(l, c)
	factory := NewThreadedFactory(l, inner, sc)

	connect := c.GetString("connect", "") != ""
	var addr *udp.Addr
	if connect {
		addr, err = factory.ConnectAddr()
	} else {
		addr, err = factory.BindAddr()
	}
	if err != nil {
		return nil, util.NewContextualError("Failed to resolve the socket address", m{"connect": connect}, err)
	}

	if configTest {
		// Make sure the socket config is usable without opening anything
		tc := sc
		tc.Metrics = nil
		if _, err := NewSocket(l, udp.NoopConn{}, tc); err != nil {
			return nil, util.NewContextualError("Invalid threaded socket config", m{"threaded": c.Get("threaded")}, err)
		}
		return nil, nil
	}

	var sock *Socket
	if connect {
		sock, err = factory.NewClientSocket()
	} else {
		sock, err = factory.NewServerSocket()
	}
	if err != nil {
		return nil, util.NewContextualError("Failed to create the socket", m{"threaded": c.Get("threaded")}, err)
	}

	if connect {
		err = sock.Connect(addr)
	} else {
		err = sock.Bind(addr)
	}
	if err != nil {
		_ = sock.Close()
		return nil, util.NewContextualError("Failed to open the socket", m{"addr": addr, "connect": connect}, err)
	}

	// Socket options can only be applied once the conns are open
	inner.ReloadConfig(c)
	c.RegisterReloadCallback(func(c *config.C) {
		if c.HasChanged("listen.read_buffer") || c.HasChanged("listen.write_buffer") {
			inner.ReloadConfig(c)
		}

		if c.HasChanged("threaded") || c.HasChanged("listen.host") || c.HasChanged("listen.port") || c.HasChanged("connect") {
			l.Warn("Socket settings changed, they only apply after a restart")
		}
	})

	la, err := sock.LocalAddr()
	if err != nil && !errors.Is(err, udp.ErrNotBound) {
		l.WithError(err).Warn("Failed to get the local address")
	}
	l.WithField("local", la).WithField("connect", connect).
		WithField("bufferSize", sock.BufferSize()).
		WithField("maxPacketSize", sock.Pool().BlockSize()).
		Info("Threaded socket opened")

	ctrl := NewControl(l, sock, handler)
	if sc.IdleSleep > 0 {
		ctrl.idleSleep = sc.IdleSleep
	}
	ctrl.statsStart = statsStart
	if statsEnabled(c) {
		ctrl.statsEmit = udp.NewUDPStatsEmitter(inner.Conns())
		ctrl.statsInterval = c.GetDuration("stats.interval", 0)
	}

	return ctrl, nil
}
