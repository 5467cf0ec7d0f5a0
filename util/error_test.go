package util

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type m = map[string]any

type TestLogWriter struct {
	Logs []string
}

func NewTestLogWriter() *TestLogWriter {
	return &TestLogWriter{Logs: make([]string, 0)}
}

func (tl *TestLogWriter) Write(p []byte) (n int, err error) {
	tl.Logs = append(tl.Logs, string(p))
	return len(p), nil
}

func (tl *TestLogWriter) Reset() {
	tl.Logs = tl.Logs[:0]
}

func newTextLogger() (*logrus.Logger, *TestLogWriter) {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	}

	tl := NewTestLogWriter()
	l.Out = tl
	return l, tl
}

func TestContextualError_Log(t *testing.T) {
	l, tl := newTextLogger()

	// Test a full context line
	tl.Reset()
	e := NewContextualError("Failed to bind socket", m{"addr": "0.0.0.0:4242"}, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"Failed to bind socket\" addr=\"0.0.0.0:4242\" error=error\n"}, tl.Logs)

	// Test a line with an error and msg but no fields
	tl.Reset()
	e = NewContextualError("test message", nil, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error\n"}, tl.Logs)

	// Test just a context and fields
	tl.Reset()
	e = NewContextualError("test message", m{"field": "1"}, nil)
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"test message\" field=1\n"}, tl.Logs)

	// Test just a context
	tl.Reset()
	e = NewContextualError("test message", nil, nil)
	e.Log(l)
	assert.Equal(t, []string{"level=error msg=\"test message\"\n"}, tl.Logs)

	// Test just an error
	tl.Reset()
	e = NewContextualError("", nil, errors.New("error"))
	e.Log(l)
	assert.Equal(t, []string{"level=error error=error\n"}, tl.Logs)
}

func TestContextualError_Error(t *testing.T) {
	assert.Equal(t, "just context", NewContextualError("just context", nil, nil).Error())
	assert.Equal(t, "context: error", NewContextualError("context", nil, errors.New("error")).Error())
	assert.Equal(t, "context (map[field:1]): error", NewContextualError("context", m{"field": "1"}, errors.New("error")).Error())
}

func TestContextualError_Unwrap(t *testing.T) {
	e := NewContextualError("Failed to start", nil, fmt.Errorf("bind: %w", net.ErrClosed))
	assert.ErrorIs(t, e, net.ErrClosed)
	assert.Nil(t, NewContextualError("no cause", nil, nil).Unwrap())
}

func TestLogWithContextIfNeeded(t *testing.T) {
	l, tl := newTextLogger()

	// Test ignoring fallback context
	tl.Reset()
	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	LogWithContextIfNeeded("This should get thrown away", e, l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	// A wrapped contextual error still provides the context
	tl.Reset()
	LogWithContextIfNeeded("This should get thrown away", fmt.Errorf("outer: %w", e), l)
	assert.Equal(t, []string{"level=error msg=\"test message\" error=error field=1\n"}, tl.Logs)

	// Test using fallback context
	tl.Reset()
	err := fmt.Errorf("this is a normal error")
	LogWithContextIfNeeded("Fallback context woo", err, l)
	assert.Equal(t, []string{"level=error msg=\"Fallback context woo\" error=\"this is a normal error\"\n"}, tl.Logs)
}

func TestContextualizeIfNeeded(t *testing.T) {
	// Test ignoring fallback context
	e := NewContextualError("test message", m{"field": "1"}, errors.New("error"))
	assert.Same(t, e, ContextualizeIfNeeded("should be ignored", e))

	// Test using fallback context
	err := fmt.Errorf("this is a normal error")
	cErr := ContextualizeIfNeeded("Fallback context woo", err)

	var v *ContextualError
	if assert.ErrorAs(t, cErr, &v) {
		assert.Equal(t, err, v.RealError)
		assert.Equal(t, "Fallback context woo", v.Context)
	}
}
