package test

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// NewLogger returns a logger that discards everything unless TEST_LOGS is set.
// TEST_LOGS=1 logs at info, 2 at debug and 3 at trace.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	switch v {
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l
}

// NewLoggerWithHook is NewLogger plus a hook that records every entry at debug level and above, for tests that
// assert on what was logged.
func NewLoggerWithHook() (*logrus.Logger, *logtest.Hook) {
	l := NewLogger()
	if l.GetLevel() < logrus.DebugLevel {
		l.SetLevel(logrus.DebugLevel)
	}
	return l, logtest.NewLocal(l)
}
