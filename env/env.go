package env

import (
	"log"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/agentuity/go-warehouse/logger"
)

// Variables consulted by the warehouse command when a flag is not given.
const (
	EnvDirectory = "WAREHOUSE_DIR"
	EnvNamespace = "WAREHOUSE_NAMESPACE"
	EnvLogLevel  = logger.EnvLogLevel
	EnvLogFormat = "WAREHOUSE_LOG_FORMAT"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []EnvLine{}, nil
		}
		return nil, errors.Wrapf(err, "reading env file %s", filename)
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line, removing one level of quotes from
// the value.
func ProcessEnvLine(line string) EnvLine {
	tok := strings.SplitN(line, "=", 2)
	if len(tok) < 2 {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(tok[0]), Val: dequote(strings.TrimSpace(tok[1]))}
}

// ParseEnvBuffer parses KEY=value lines, skipping blanks and # comments.
// Values may refer to earlier keys or the process environment with
// ${NAME} or ${NAME:-default}.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = expand(env.Val, func(name string) (string, bool) {
			if v, ok := vars[name]; ok {
				return v, true
			}
			return os.LookupEnv(name)
		})
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	return envs, nil
}

// LoadEnvFile sets every variable in filename that is not already set in the
// process environment. A missing file is not an error.
func LoadEnvFile(filename string) error {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return err
	}
	for _, e := range envs {
		if _, ok := os.LookupEnv(e.Key); ok {
			continue
		}
		if err := os.Setenv(e.Key, e.Val); err != nil {
			return errors.Wrapf(err, "setting %s", e.Key)
		}
	}
	return nil
}

// Expand replaces ${NAME} and ${NAME:-default} references in input with
// values from the process environment. A reference to an unset or empty
// variable without a default is left as written.
func Expand(input string) string {
	return expand(input, os.LookupEnv)
}

func findClosingBrace(input string, start int) int {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '{':
			return -1
		case '}':
			return i
		}
	}
	return -1
}

func expand(input string, lookup func(string) (string, bool)) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var result strings.Builder
	lastPos := 0
	for i := 0; i+1 < len(input); i++ {
		if input[i] != '$' || input[i+1] != '{' {
			continue
		}
		end := findClosingBrace(input, i+2)
		if end == -1 {
			// unterminated, keep the rest verbatim
			break
		}
		result.WriteString(input[lastPos:i])
		ref := input[i : end+1]
		name, def, _ := strings.Cut(input[i+2:end], ":-")
		val, ok := "", false
		if name != "" {
			val, ok = lookup(name)
		}
		switch {
		case ok && val != "":
			result.WriteString(val)
		case def != "":
			result.WriteString(def)
		default:
			result.WriteString(ref)
		}
		i = end
		lastPos = end + 1
	}
	result.WriteString(input[lastPos:])
	return result.String()
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves the log-level flag, then WAREHOUSE_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", EnvLogLevel, "info"), logger.LevelInfo)
}

// NewLogger returns a logger by first checking the cobra.Command log-level flag, then use the
// WAREHOUSE_LOG_LEVEL environment value and falling back to the info logger level.
// A log-format (or WAREHOUSE_LOG_FORMAT) of "json" selects the JSON logger.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	if strings.EqualFold(FlagOrEnv(cmd, "log-format", EnvLogFormat, "console"), "json") {
		return logger.NewJSONLogger(LogLevel(cmd))
	}
	return logger.NewConsoleLogger(LogLevel(cmd))
}
