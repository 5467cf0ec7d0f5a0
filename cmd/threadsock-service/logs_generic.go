//go:build !windows

package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// HookLogger leaves logging on stdout, the init system collects it.
func HookLogger(l *logrus.Logger) {
	l.SetOutput(os.Stdout)
}
