package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "hello"}.String()), &parsed))
	assert.Equal(t, "hello", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])

	entry := JSONLogEntry{
		Message:  "evicted",
		Severity: "DEBUG",
		Metadata: map[string]interface{}{"tier": "disk", "count": 2},
	}
	require.NoError(t, json.Unmarshal([]byte(entry.String()), &parsed))
	assert.Equal(t, "DEBUG", parsed["severity"])
	metadata := parsed["metadata"].(map[string]interface{})
	assert.Equal(t, "disk", metadata["tier"])
	assert.Equal(t, float64(2), metadata["count"])
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []JSONLogEntry {
	t.Helper()
	var entries []JSONLogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry JSONLogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLoggerWithSink(&buf, LevelInfo)
	log.(*jsonLogger).now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	log.Debug("hidden")
	log.Info("purged %d entries", 3)
	log.Warn(Red + "colored" + Reset)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "purged 3 entries", entries[0].Message)
	assert.Equal(t, "INFO", entries[0].Severity)
	assert.True(t, entries[0].Timestamp.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "colored", entries[1].Message)
	assert.Equal(t, "WARNING", entries[1].Severity)
}

func TestJSONLoggerWithAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSONLoggerWithSink(&buf, LevelTrace)
	log := base.WithPrefix("cache").WithPrefix("disk").With(map[string]interface{}{"namespace": "ns"})
	log.Error("boom")
	base.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "cache disk", entries[0].Component)
	assert.Equal(t, "ns", entries[0].Metadata["namespace"])
	assert.Empty(t, entries[1].Component)
	assert.Empty(t, entries[1].Metadata)

	log = base.With(map[string]interface{}{"component": "hybrid"})
	buf.Reset()
	log.Info("x")
	entries = decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "hybrid", entries[0].Component)
	assert.NotContains(t, entries[0].Metadata, "component")
}

func TestJSONLoggerLevels(t *testing.T) {
	log := NewJSONLogger(LevelWarn)
	assert.False(t, log.IsLevelEnabled(LevelInfo))
	assert.True(t, log.IsLevelEnabled(LevelWarn))

	var buf bytes.Buffer
	sinkOnly := NewJSONLoggerWithSink(&buf, LevelError)
	assert.False(t, sinkOnly.IsLevelEnabled(LevelWarn))
	assert.True(t, sinkOnly.IsLevelEnabled(LevelError))
}

func TestJSONLoggerStack(t *testing.T) {
	var buf bytes.Buffer
	test := NewTestLogger()
	log := NewJSONLoggerWithSink(&buf, LevelInfo).Stack(test)
	log.Info("both")

	assert.Len(t, decodeLines(t, &buf), 1)
	assert.True(t, test.Contains("INFO", "both"))
}
