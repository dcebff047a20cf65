package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "info", Format: "json", Out: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("decompiled", zap.String("script", "a.qvm"), zap.Int("diags", 2))
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "decompiled", rec["msg"])
	assert.Equal(t, "a.qvm", rec["script"])
	assert.EqualValues(t, 2, rec["diags"])
	assert.Contains(t, rec, "ts")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Out: &buf})
	require.NoError(t, err)

	log.Debug("step", zap.String("phase", "cfg"))
	require.NoError(t, log.Sync())
	assert.Contains(t, buf.String(), "step")
	assert.Contains(t, buf.String(), `"phase": "cfg"`)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.ErrorContains(t, err, "logging:")

	_, err = New(Options{Format: "xml"})
	assert.ErrorContains(t, err, "unknown format")
}
