// Package cmd implements the gametest command line.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"voxeltest.ai/internal/config"
	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/logging"
	"voxeltest.ai/internal/sim/structures"
	"voxeltest.ai/internal/sim/voxel"
	"voxeltest.ai/internal/suites"
)

// ErrTestsFailed is returned by run when a required test failed or the run
// halted.
var ErrTestsFailed = errors.New("required tests failed")

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

// NewRootCmd builds the gametest command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gametest",
		Short: "Run spatially isolated, tick-driven game tests",
		Long: `gametest lays out one arena per test in an in-memory voxel world,
drives every arena tick by tick and reports which tests passed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to gametest.yaml (defaults when empty)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "", "data directory (overrides data_dir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")

	root.AddCommand(newRunCmd(opts), newListCmd(opts), newFailedCmd(opts), newRunsCmd(opts))
	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// env is everything a command needs to build a run.
type env struct {
	cfg      config.Config
	log      *log.Logger
	registry *gametest.Registry
	catalog  *structures.Catalog
}

func (o *rootOptions) load(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(o.dataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(o.logLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.FromEnv(cmd.ErrOrStderr(), cfg.LogLevel)

	cats, err := suites.Structures()
	if err != nil {
		return nil, err
	}
	if cfg.StructuresDir != "" {
		extra, err := structures.Load(cfg.StructuresDir)
		if err != nil {
			return nil, err
		}
		for _, id := range extra.IDs() {
			d, _ := extra.Lookup(id)
			if err := cats.Add(d); err != nil {
				return nil, err
			}
		}
	}

	reg := gametest.NewRegistry()
	if err := suites.Register(reg, logger); err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger, registry: reg, catalog: cats}, nil
}

func (e *env) newWorld() (*voxel.World, error) {
	return voxel.New(voxel.Config{
		Palette:    e.cfg.World.Palette,
		Fill:       e.cfg.World.Fill,
		Structures: e.catalog,
	})
}
