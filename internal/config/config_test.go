package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"JWT_SECRET": "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ReapInterval)
	assert.Equal(t, 2*time.Second, cfg.PresenceGrace)
	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.DebugRoutes)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.Equal(t, "#", cfg.BrokerBindingKey)
	assert.Equal(t, "chat.realtime", cfg.BrokerExchange)
	assert.NotEqual(t, cfg.AMQPExchange, cfg.BrokerExchange)
}

func TestLoadFromRequiresSecret(t *testing.T) {
	_, err := LoadFrom(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"JWT_SECRET":     "x",
		"STORE_DRIVER":   "Memory",
		"IDLE_TIMEOUT":   "5m",
		"DEBUG_ROUTES":   "true",
		"ENVIRONMENT":    "dev",
		"PRESENCE_GRACE": "500ms",
	})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.True(t, cfg.DebugRoutes)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 500*time.Millisecond, cfg.PresenceGrace)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := LoadFrom(map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "mongo"})
	assert.ErrorContains(t, err, "STORE_DRIVER")

	_, err = LoadFrom(map[string]string{"JWT_SECRET": "x", "REAP_INTERVAL": "0s"})
	assert.ErrorContains(t, err, "REAP_INTERVAL")

	_, err = LoadFrom(map[string]string{"JWT_SECRET": "x", "IDLE_TIMEOUT": "soon"})
	assert.Error(t, err)
}

func TestLoggingConfig(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"JWT_SECRET": "x", "LOG_LEVEL": "debug", "LOG_FORMAT": "console"})
	require.NoError(t, err)
	lc := cfg.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.Equal(t, "chat-realtime", lc.Service)
}
