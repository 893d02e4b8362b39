package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.Equal(t, 8, cfg.TestsPerRow)
	assert.True(t, cfg.ClearBetweenBatches)
	assert.Equal(t, 20, cfg.TickRateHz)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.SnapshotFailures)
	require.NoError(t, cfg.Validate())
}

func TestLoad_RepoConfig(t *testing.T) {
	cfg, err := Load("../../configs/gametest.yaml")
	require.NoError(t, err)
	assert.Equal(t, [3]int{0, 64, 0}, cfg.Origin)
	assert.Equal(t, "stone", cfg.World.Fill)
}

func TestParse_OverridesKeepDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
tests_per_row: 3
halt_on_error: true
log_level: " DEBUG "
retry:
  tries: 2
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.TestsPerRow)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.True(t, cfg.HaltOnError)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Retry.Tries)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"batch size":  "max_batch_size: 0",
		"row":         "tests_per_row: -1",
		"tick rate":   "tick_rate_hz: 0",
		"retry modes": "retry: {tries: 3, until_failed: true}",
		"log level":   "log_level: loud",
		"fill":        "world: {palette: [dirt], fill: stone}",
		"listen":      "progress_listen: ':9000'\nmetrics_listen: ':9000'",
		"yaml":        "max_batch_size: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "gametest.yaml:")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
