package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"debug":   log.DebugLevel,
		" WARN ":  log.WarnLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"info":    log.InfoLevel,
		"":        log.InfoLevel,
		"verbose": log.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "batch", "redstone:0")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "batch=redstone:0")
	assert.Contains(t, out, "gametest")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	var buf bytes.Buffer
	logger := FromEnv(&buf, "debug")
	logger.Warn("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, log.ErrorLevel, logger.GetLevel())
}
