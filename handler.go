package threadsock

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/udp"
)

// Handler is given every datagram the consumer loop receives. b is only valid until Handle returns.
type Handler interface {
	Handle(conn udp.Conn, from *udp.Addr, b []byte) error
}

type HandlerFunc func(conn udp.Conn, from *udp.Addr, b []byte) error

func (f HandlerFunc) Handle(conn udp.Conn, from *udp.Addr, b []byte) error {
	return f(conn, from, b)
}

// EchoHandler sends every datagram back to where it came from
var EchoHandler Handler = echoHandler{}

// DiscardHandler drops every datagram
var DiscardHandler Handler = discardHandler{}

type echoHandler struct{}

func (echoHandler) Handle(conn udp.Conn, from *udp.Addr, b []byte) error {
	return conn.Send(from, b)
}

type discardHandler struct{}

func (discardHandler) Handle(udp.Conn, *udp.Addr, []byte) error {
	return nil
}

type logHandler struct {
	l *logrus.Logger
}

// LogHandler logs the source and size of every datagram, and the payload at debug
func LogHandler(l *logrus.Logger) Handler {
	return logHandler{l: l}
}

func (h logHandler) Handle(_ udp.Conn, from *udp.Addr, b []byte) error {
	h.l.WithField("from", from).WithField("size", len(b)).Info("Received datagram")
	if h.l.IsLevelEnabled(logrus.DebugLevel) {
		h.l.WithField("from", from).WithField("payload", fmt.Sprintf("%x", b)).Debug("Datagram payload")
	}
	return nil
}

// NewHandlerFromConfig picks the handler named by handler.mode
func NewHandlerFromConfig(l *logrus.Logger, c *config.C) (Handler, error) {
	mode := strings.ToLower(c.GetString("handler.mode", "echo"))
	switch mode {
	case "echo":
		return EchoHandler, nil
	case "discard":
		return DiscardHandler, nil
	case "log":
		return LogHandler(l), nil
	default:
		return nil, fmt.Errorf("unknown handler.mode `%s`. possible modes: %s", mode, []string{"echo", "discard", "log"})
	}
}
