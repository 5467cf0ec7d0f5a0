package threadsock

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/udp"
	"golang.org/x/sync/errgroup"
)

// Control runs the consumer side of a Socket, every received datagram is given to the Handler.
// Start is non blocking, Stop or ShutdownBlock end it.
type Control struct {
	l       *logrus.Logger
	sock    *Socket
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	idleSleep     time.Duration
	statsStart    func()
	statsEmit     func()
	statsInterval time.Duration
}

func NewControl(l *logrus.Logger, sock *Socket, handler Handler) *Control {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	return &Control{
		l:         l,
		sock:      sock,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		eg:        eg,
		idleSleep: DefaultIdleSleep,
	}
}

// Start runs the consumer loop and stats, it does not block. To block use Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}

	if c.statsEmit != nil && c.statsInterval > 0 {
		c.eg.Go(c.emitStats)
	}

	c.eg.Go(c.consume)
}

// Stop closes the socket and returns once the consumer loop and the receiver have finished
func (c *Control) Stop() {
	c.cancel()
	if err := c.sock.Close(); err != nil && !errors.Is(err, ErrClosed) {
		c.l.WithError(err).Error("Close socket failed")
	}

	if err := c.eg.Wait(); err != nil {
		c.l.WithError(err).Error("Consumer stopped with an error")
	}

	select {
	case <-c.sock.Done():
	case <-time.After(5 * time.Second):
		c.l.Warn("Timed out waiting for the receiver to stop")
	}

	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	select {
	case rawSig := <-sigChan:
		c.l.WithField("signal", rawSig.String()).Info("Caught signal, shutting down")
	case <-c.sock.Done():
		c.l.Warn("Socket stopped, shutting down")
	}

	signal.Stop(sigChan)
	c.Stop()
}

// LocalAddr is the address the socket is bound to
func (c *Control) LocalAddr() (*udp.Addr, error) {
	return c.sock.LocalAddr()
}

func (c *Control) Socket() *Socket {
	return c.sock
}

func (c *Control) consume() error {
	b := make([]byte, c.sock.pool.BlockSize())
	for {
		ok, err := c.sock.Poll()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		if !ok {
			select {
			case <-c.ctx.Done():
				return nil
			case <-time.After(c.idleSleep):
			}
			continue
		}

		n, from, err := c.sock.Receive(b)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		if err := c.handler.Handle(c.sock, from, b[:n]); err != nil {
			c.l.WithError(err).WithField("from", from).Warn("Handler failed")
		}
	}
}

func (c *Control) emitStats() error {
	t := time.NewTicker(c.statsInterval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-t.C:
			c.statsEmit()
		}
	}
}
