package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCloudHandler(&buf, slog.LevelInfo))

	logger.Error("upload failed", "table", "okta_users")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))

	assert.Equal(t, "upload failed table=okta_users", payload["message"])
	assert.Equal(t, "ERROR", payload["severity"])

	ts, ok := payload["timestamp"].(map[string]any)
	require.True(t, ok, "timestamp must be an object")
	assert.Contains(t, ts, "seconds")
	assert.Contains(t, ts, "nanos")
}

func TestCloudHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCloudHandler(&buf, slog.LevelInfo))

	logger.Debug("noisy detail")
	assert.Zero(t, buf.Len())

	logger.Info("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatCloud, ParseFormat("cloud"))
	assert.Equal(t, FormatCloud, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat(""))
	assert.Equal(t, FormatText, ParseFormat("text"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("unknown"))
}
