package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the run configuration read from gametest.yaml.
type Config struct {
	MaxBatchSize        int    `yaml:"max_batch_size"`
	TestsPerRow         int    `yaml:"tests_per_row"`
	Origin              [3]int `yaml:"origin"`
	ClearBetweenBatches bool   `yaml:"clear_between_batches"`
	HaltOnError         bool   `yaml:"halt_on_error"`
	Retry               Retry  `yaml:"retry"`
	TickRateHz          int    `yaml:"tick_rate_hz"`

	LogLevel      string `yaml:"log_level"`
	DataDir       string `yaml:"data_dir"`
	StructuresDir string `yaml:"structures_dir"`
	// SnapshotFailures dumps the arena of every failed attempt under data_dir/arenas.
	SnapshotFailures bool `yaml:"snapshot_failures"`

	// Empty listen addresses disable the corresponding server.
	ProgressListen string `yaml:"progress_listen"`
	MetricsListen  string `yaml:"metrics_listen"`

	World World `yaml:"world"`
}

type Retry struct {
	Tries       int  `yaml:"tries"`
	UntilFailed bool `yaml:"until_failed"`
}

// World configures the in-memory voxel world arenas are built in.
type World struct {
	Palette []string `yaml:"palette"`
	Fill    string   `yaml:"fill"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse decodes a gametest.yaml document on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("gametest.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("gametest.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		MaxBatchSize:        50,
		TestsPerRow:         8,
		ClearBetweenBatches: true,
		TickRateHz:          20,
		LogLevel:            "info",
		DataDir:             "data",
		StructuresDir:       "structures",
		SnapshotFailures:    true,
		World: World{
			Palette: []string{"stone", "dirt", "grass", "sand", "glass", "planks", "gold_block", "redstone_block", "lamp", "lamp_lit", "lever", "lever_on", "water"},
			Fill:    "stone",
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.StructuresDir = strings.TrimSpace(c.StructuresDir)
	c.ProgressListen = strings.TrimSpace(c.ProgressListen)
	c.MetricsListen = strings.TrimSpace(c.MetricsListen)
	c.World.Fill = strings.TrimSpace(c.World.Fill)
	if c.Retry.Tries < 0 {
		c.Retry.Tries = 0
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be > 0")
	}
	if c.TestsPerRow <= 0 {
		return fmt.Errorf("tests_per_row must be > 0")
	}
	if c.TickRateHz <= 0 || c.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000]")
	}
	if c.Retry.UntilFailed && c.Retry.Tries > 0 {
		return fmt.Errorf("retry.tries and retry.until_failed are mutually exclusive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.World.Fill != "" {
		found := false
		for _, b := range c.World.Palette {
			if b == c.World.Fill {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("world.fill %q not found in world.palette", c.World.Fill)
		}
	}
	if c.ProgressListen != "" && c.ProgressListen == c.MetricsListen {
		return fmt.Errorf("progress_listen and metrics_listen must differ")
	}
	return nil
}
