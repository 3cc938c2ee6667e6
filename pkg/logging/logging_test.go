package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "warn", "json")

	logger.Info().Msg("dropped")
	logger.Warn().Str("product", "p1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "p1", entry["product"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetupWriter_BadLevelFallsBack(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	SetupWriter(&buf, "shouting", "console")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	SetupWriter(&buf, "", "console")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	SetupWriter(&buf, "DEBUG", "console")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
