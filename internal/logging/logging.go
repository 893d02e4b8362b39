package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "GAMETEST_LOG_LEVEL"

// New returns a timestamped logger writing to w at the given level.
func New(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "gametest",
	})
	logger.SetLevel(ParseLevel(level))
	return logger
}

// FromEnv is New with the level taken from GAMETEST_LOG_LEVEL when it is set.
func FromEnv(w io.Writer, fallback string) *log.Logger {
	if v := strings.TrimSpace(os.Getenv(EnvLevel)); v != "" {
		return New(w, v)
	}
	return New(w, fallback)
}

// ParseLevel maps debug, info, warn (or warning) and error to a level.
// Anything else is info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Discard is a logger that drops everything.
func Discard() *log.Logger { return log.New(io.Discard) }
