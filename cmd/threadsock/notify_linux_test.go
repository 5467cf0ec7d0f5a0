package main

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/slackhq/threadsock/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer ln.Close()

	t.Setenv("NOTIFY_SOCKET", path)
	l, hook := test.NewLoggerWithHook()
	notifyReady(l, "Receiving on 127.0.0.1:4242")

	require.NoError(t, ln.SetReadDeadline(time.Now().Add(5*time.Second)))
	b := make([]byte, 256)
	n, err := ln.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "READY=1\nSTATUS=Receiving on 127.0.0.1:4242", string(b[:n]))
	assert.Equal(t, "Notified systemd the socket is ready", hook.LastEntry().Message)
}

func TestNotifyReady_Unreachable(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "missing.sock"))
	l, hook := test.NewLoggerWithHook()
	notifyReady(l, "status")
	assert.Equal(t, "Failed to notify systemd", hook.LastEntry().Message)
}

func TestNotifyReady_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	l, hook := test.NewLoggerWithHook()
	notifyReady(l, "status")
	assert.Equal(t, "Not started by systemd, skipping the ready notification", hook.LastEntry().Message)
}
