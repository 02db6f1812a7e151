package hermes

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "split", "2014")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "2014", record["split"])

	_, err = NewLogger("loud", "json", &buf)
	assert.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", "text", &buf)
	require.NoError(t, err)

	NewSlogAdapter(logger).Error(context.Background(), "process failed", map[string]any{"exit_code": 1})
	assert.Contains(t, buf.String(), "process failed")
	assert.Contains(t, buf.String(), "exit_code=1")

	// nil logger must not panic
	NewSlogAdapter(nil).Info(context.Background(), "ignored", nil)
}
