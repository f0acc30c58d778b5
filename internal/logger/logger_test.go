package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, zerolog.InfoLevel), "engine")

	l.Debug().Msg("hidden")
	l.Info().Int("features", 3).Msg("run started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "run started", entry["message"])
	assert.EqualValues(t, 3, entry["features"])
	assert.Contains(t, entry, "time")
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, Level(true, false))
	assert.Equal(t, zerolog.DebugLevel, Level(true, true))
	assert.Equal(t, zerolog.InfoLevel, Level(false, true))
	assert.Equal(t, zerolog.WarnLevel, Level(false, false))
}
