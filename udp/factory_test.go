package udp

import (
	"testing"

	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("listen:\n  host: 127.0.0.1\n  port: 4242\n  batch: 2\nconnect: 127.0.0.1:5353"))

	f := NewFactory(l, c)
	a, err := f.BindAddr()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4242", a.String())

	a, err = f.ConnectAddr()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5353", a.String())

	s, err := f.CreateServerSocket()
	require.NoError(t, err)
	cl, err := f.CreateClientSocket()
	require.NoError(t, err)

	conns := f.Conns()
	require.Len(t, conns, 2)
	assert.Same(t, s, conns[0])
	assert.Same(t, cl, conns[1])
	assert.Equal(t, 2, conns[0].batch)

	// Unbound conns are skipped
	f.ReloadConfig(c)
}

func TestFactory_Defaults(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	f := NewFactory(l, c)

	a, err := f.BindAddr()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:0", a.String())

	_, err = f.ConnectAddr()
	assert.ErrorIs(t, err, ErrNoConnectAddr)

	require.NoError(t, c.LoadString("listen:\n  port: 70000"))
	_, err = f.BindAddr()
	assert.ErrorContains(t, err, "listen.port")
}
