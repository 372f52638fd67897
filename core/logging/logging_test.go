package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriterJSON(t *testing.T) {
	t.Setenv("BINSCAN_JSON_LOG", "true")
	t.Setenv("BINSCAN_LOG_LEVEL", "warn")
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := InitWriter("binscan-test", &buf)
	logger.Info("dropped")
	logger.Warn("kept", "detector", "clamav")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "binscan-test", rec["service"])
	assert.Equal(t, "clamav", rec["detector"])
}

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	t.Setenv("BINSCAN_LOG_LEVEL", "verbose")
	assert.Equal(t, slog.LevelInfo, levelFromEnv())
}
