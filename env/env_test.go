package env

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-warehouse/logger"
)

func TestParseEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.env")

	tests := []struct {
		name     string
		content  string
		expected []EnvLine
	}{
		{
			name:     "empty file",
			content:  "",
			expected: []EnvLine{},
		},
		{
			name: "valid env file",
			content: `
WAREHOUSE_DIR=/var/cache/app
WAREHOUSE_NAMESPACE="images"
WAREHOUSE_LOG_LEVEL='debug'
# This is a comment
GREETING=value with spaces
`,
			expected: []EnvLine{
				{Key: "WAREHOUSE_DIR", Val: "/var/cache/app"},
				{Key: "WAREHOUSE_NAMESPACE", Val: "images"},
				{Key: "WAREHOUSE_LOG_LEVEL", Val: "debug"},
				{Key: "GREETING", Val: "value with spaces"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(tmpFile, []byte(tt.content), 0644))
			got, err := ParseEnvFile(tmpFile)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("non-existent file", func(t *testing.T) {
		got, err := ParseEnvFile(filepath.Join(tmpDir, "nonexistent.env"))
		assert.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestParseEnvBufferInterpolation(t *testing.T) {
	t.Setenv("WAREHOUSE_TEST_HOME", "/home/test")
	got, err := ParseEnvBuffer([]byte(`BASE=${WAREHOUSE_TEST_HOME}/.cache
WAREHOUSE_DIR=${BASE}/warehouse
NAMESPACE=${UNSET_WAREHOUSE_VAR:-default}
RAW=${UNSET_WAREHOUSE_VAR}
`))
	require.NoError(t, err)
	assert.Equal(t, []EnvLine{
		{Key: "BASE", Val: "/home/test/.cache"},
		{Key: "WAREHOUSE_DIR", Val: "/home/test/.cache/warehouse"},
		{Key: "NAMESPACE", Val: "default"},
		{Key: "RAW", Val: "${UNSET_WAREHOUSE_VAR}"},
	}, got)
}

func TestProcessEnvLine(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected EnvLine
	}{
		{"simple key value", "KEY=value", EnvLine{Key: "KEY", Val: "value"}},
		{"quoted value", "KEY=\"value\"", EnvLine{Key: "KEY", Val: "value"}},
		{"single quoted value", "KEY='value'", EnvLine{Key: "KEY", Val: "value"}},
		{"value with spaces", "KEY=value with spaces", EnvLine{Key: "KEY", Val: "value with spaces"}},
		{"value with equals", "KEY=a=b", EnvLine{Key: "KEY", Val: "a=b"}},
		{"no value", "KEY", EnvLine{Key: "KEY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProcessEnvLine(tt.env))
		})
	}
}

func TestDequote(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no quotes", "value", "value"},
		{"double quotes", "\"value\"", "value"},
		{"single quotes", "'value'", "value"},
		{"mismatched quotes", "'value\"", "'value\""},
		{"lone quote", "\"", "\""},
		{"nested quotes keep inner", "\"'value'\"", "'value'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, dequote(tt.input))
		})
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("WAREHOUSE_TEST_NS", "thumbnails")
	t.Setenv("WAREHOUSE_TEST_EMPTY", "")

	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"ns: ${WAREHOUSE_TEST_NS}", "ns: thumbnails"},
		{"${WAREHOUSE_TEST_NS}-${WAREHOUSE_TEST_NS}", "thumbnails-thumbnails"},
		{"${WAREHOUSE_TEST_MISSING:-fallback}", "fallback"},
		{"${WAREHOUSE_TEST_EMPTY:-fallback}", "fallback"},
		{"${WAREHOUSE_TEST_MISSING}", "${WAREHOUSE_TEST_MISSING}"},
		{"${}", "${}"},
		{"unterminated ${WAREHOUSE_TEST_NS", "unterminated ${WAREHOUSE_TEST_NS"},
		{"cost ${WAREHOUSE_TEST_NS} and $HOME", "cost thumbnails and $HOME"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.input))
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(tmpFile, []byte("WAREHOUSE_TEST_A=from-file\nWAREHOUSE_TEST_B=from-file\n"), 0644))
	t.Setenv("WAREHOUSE_TEST_B", "from-env")
	// registered so the variable is restored after the test
	t.Setenv("WAREHOUSE_TEST_A", "")
	os.Unsetenv("WAREHOUSE_TEST_A")

	require.NoError(t, LoadEnvFile(tmpFile))
	assert.Equal(t, "from-file", os.Getenv("WAREHOUSE_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("WAREHOUSE_TEST_B"), "the environment wins over the file")

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	cmd.Flags().Set("test-flag", "flag-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "WAREHOUSE_TEST_ENV", "default"))

	cmd.Flags().Set("test-flag", "")
	t.Setenv("WAREHOUSE_TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "WAREHOUSE_TEST_ENV", "default"))

	os.Unsetenv("WAREHOUSE_TEST_ENV")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "WAREHOUSE_TEST_ENV", "default"))
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")

	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"warn level via env", "", "WARN", logger.LevelWarn},
		{"error level via flag", "error", "", logger.LevelError},
		{"error level via env", "", "ERROR", logger.LevelError},
		{"trace level via flag", "trace", "", logger.LevelTrace},
		{"trace level via env", "", "TRACE", logger.LevelTrace},
		{"flag beats env", "error", "debug", logger.LevelError},
		{"unknown falls back to info", "loud", "", logger.LevelInfo},
		{"default level", "", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd.Flags().Set("log-level", tc.flagValue)
			t.Setenv(EnvLogLevel, tc.envValue)
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestNewLogger(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "warn", "Log level")
	cmd.Flags().String("log-format", "", "Log format")
	t.Setenv(EnvLogFormat, "")

	log := NewLogger(cmd)
	assert.True(t, log.IsLevelEnabled(logger.LevelWarn))
	assert.False(t, log.IsLevelEnabled(logger.LevelInfo))
	_, isSink := log.(logger.SinkLogger)
	assert.True(t, isSink)

	t.Setenv(EnvLogFormat, "JSON")
	log = NewLogger(cmd)
	assert.True(t, log.IsLevelEnabled(logger.LevelError))
	assert.False(t, log.IsLevelEnabled(logger.LevelInfo))
	assert.Equal(t, fmt.Sprintf("%T", logger.NewJSONLogger()), fmt.Sprintf("%T", log))
}
