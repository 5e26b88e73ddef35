package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestInitWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Service: "chat-realtime", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	logger := With("registry")
	logger.Debug().Str("conn_id", "c1").Msg("registered")

	out := buf.String()
	require.Contains(t, out, `"service":"chat-realtime"`)
	require.Contains(t, out, `"component":"registry"`)
	require.Contains(t, out, `"conn_id":"c1"`)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Debug().Msg("hidden")
	Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
