package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+1******4567", MaskPhone("+15551234567"))
	assert.Equal(t, "5*****4567", MaskPhone("5551234567"))
	assert.Equal(t, "****", MaskPhone("1234"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestStackHandlerAddsTraceOnError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&stackHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	logger.Info("fine")
	var info map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.NotContains(t, info, "stacktrace")

	buf.Reset()
	logger.With("k", "v").ErrorContext(context.Background(), "broken")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Contains(t, rec, "stacktrace")
	assert.Equal(t, "v", rec["k"])
}
