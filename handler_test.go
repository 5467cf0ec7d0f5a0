package threadsock

import (
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/test"
	"github.com/slackhq/threadsock/udp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers(t *testing.T) {
	l, hook := test.NewLoggerWithHook()
	tc := udp.NewTesterConn(l, 4)
	require.NoError(t, tc.Bind(udp.NewAddr(net.IPv4(127, 0, 0, 1), 1)))
	from := udp.NewAddr(net.IPv4(10, 0, 0, 1), 2)

	require.NoError(t, EchoHandler.Handle(tc, from, []byte("ping")))
	p := tc.Get(false)
	require.NotNil(t, p)
	assert.Equal(t, "ping", string(p.Data))
	assert.True(t, p.To.Equals(from))

	require.NoError(t, DiscardHandler.Handle(tc, from, []byte("ping")))
	assert.Nil(t, tc.Get(false))

	require.NoError(t, LogHandler(l).Handle(tc, from, []byte{0xde, 0xad}))
	assert.Nil(t, tc.Get(false))
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Received datagram", hook.AllEntries()[0].Message)
	assert.Equal(t, 2, hook.AllEntries()[0].Data["size"])
	assert.Equal(t, "dead", hook.LastEntry().Data["payload"])
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}

func TestNewHandlerFromConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)

	h, err := NewHandlerFromConfig(l, c)
	require.NoError(t, err)
	assert.Equal(t, EchoHandler, h)

	c.Settings["handler"] = map[string]any{"mode": "Discard"}
	h, err = NewHandlerFromConfig(l, c)
	require.NoError(t, err)
	assert.Equal(t, DiscardHandler, h)

	c.Settings["handler"] = map[string]any{"mode": "log"}
	h, err = NewHandlerFromConfig(l, c)
	require.NoError(t, err)
	assert.IsType(t, logHandler{}, h)

	c.Settings["handler"] = map[string]any{"mode": "forward"}
	_, err = NewHandlerFromConfig(l, c)
	assert.EqualError(t, err, "unknown handler.mode `forward`. possible modes: [echo discard log]")
}
