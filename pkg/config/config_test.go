package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 4000, c.Server.Port)
	assert.Equal(t, 60*time.Second, c.Scheduler.Interval)
	assert.Equal(t, 250*time.Millisecond, c.Scheduler.Spacing)
	assert.Equal(t, "AAPL", c.Scheduler.CanarySymbol)
	assert.Equal(t, "none", c.Backend.Type)
	assert.Equal(t, "upstream", c.Source.Mode)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, DefaultSymbols, c.Scheduler.Symbols)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
scheduler:
  interval: 30s
  symbols: [TCS.NS, INFY.NS]
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, c.Scheduler.Interval)
	assert.Equal(t, []string{"TCS.NS", "INFY.NS"}, c.Scheduler.Symbols)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "json", c.Logging.Format)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	_, err := Parse([]byte("environment: test\nbackend:\n  type: s3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.type")
}

func TestValidateRequiresBrokersForKafka(t *testing.T) {
	_, err := Parse([]byte("environment: test\nbackend:\n  type: kafka\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
}

func TestValidateRejectsRelayRepublish(t *testing.T) {
	_, err := Parse([]byte(`
environment: test
source: {mode: kafka}
backend: {type: kafka}
kafka: {brokers: ["localhost:9092"]}
`))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SYMBOLS", "TCS.NS, INFY.NS ,")
	t.Setenv("WS_PORT", "4100")
	t.Setenv("REDIS_ADDR", "cache:6380")

	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.applyEnv())

	assert.Equal(t, []string{"TCS.NS", "INFY.NS"}, c.Scheduler.Symbols)
	assert.Equal(t, 4100, c.Server.Port)
	assert.True(t, c.Cache.Redis.Enabled)
	assert.Equal(t, "cache", c.Cache.Redis.Host)
	assert.Equal(t, 6380, c.Cache.Redis.Port)
}
