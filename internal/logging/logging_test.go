package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	var file bytes.Buffer
	logger := newLogger(&file, "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Str("device", "mic").Msg("Input stream has overflowed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "mic", entry["device"])
	assert.Contains(t, entry, "time")
}
