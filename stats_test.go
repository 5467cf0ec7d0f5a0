package threadsock

import (
	"testing"

	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStats(t *testing.T) {
	l := test.NewLogger()

	tests := []struct {
		name   string
		config string
		err    string
	}{
		{"disabled", "stats:\n  type: none", ""},
		{"bad interval", "stats:\n  type: prometheus\n  interval: soon", "stats.interval was an invalid duration: soon"},
		{"unknown type", "stats:\n  type: statsd\n  interval: 10s", "stats.type was not understood: statsd"},
		{"graphite without host", "stats:\n  type: graphite\n  interval: 10s", "stats.host can not be empty"},
		{"prometheus without listen", "stats:\n  type: prometheus\n  interval: 10s\n  path: /metrics", "stats.listen should not be empty"},
		{"prometheus without path", "stats:\n  type: prometheus\n  interval: 10s\n  listen: 127.0.0.1:8080", "stats.path should not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.NewC(l)
			require.NoError(t, c.LoadString(tt.config))

			start, err := startStats(l, c, "test", true)
			if tt.err == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.err)
			}
			assert.Nil(t, start)
		})
	}
}

func TestStartStats_ConfigTest(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("stats:\n  type: graphite\n  interval: 10s\n  host: 127.0.0.1:2003"))
	assert.True(t, statsEnabled(c))

	// Nothing is started while testing the config
	start, err := startStats(l, c, "test", true)
	require.NoError(t, err)
	assert.Nil(t, start)

	start, err = startStats(l, c, "test", false)
	require.NoError(t, err)
	assert.NotNil(t, start)
}
