package main

import (
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// notifyReady reports readiness and status to systemd over $NOTIFY_SOCKET, see sd_notify(3).
// Units need Type=notify for systemd to wait on it.
func notifyReady(l *logrus.Logger, status string) {
	sockName := os.Getenv("NOTIFY_SOCKET")
	nl := l.WithField("status", status)
	if sockName == "" {
		nl.Debug("Not started by systemd, skipping the ready notification")
		return
	}

	if err := sdNotify(sockName, "READY=1\nSTATUS="+status); err != nil {
		nl.WithError(err).WithField("socket", sockName).Error("Failed to notify systemd")
		return
	}

	nl.Debug("Notified systemd the socket is ready")
}

func sdNotify(sockName, state string) error {
	conn, err := net.DialTimeout("unixgram", sockName, time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return err
	}

	_, err = conn.Write([]byte(state))
	return err
}
