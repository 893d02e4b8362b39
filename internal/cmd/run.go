package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/gametest/selector"
	"voxeltest.ai/internal/metrics"
	"voxeltest.ai/internal/persistence/eventlog"
	"voxeltest.ai/internal/persistence/resultdb"
	"voxeltest.ai/internal/persistence/snapshot"
	"voxeltest.ai/internal/report"
	"voxeltest.ai/internal/sim/geom"
	"voxeltest.ai/internal/sim/voxel"
	"voxeltest.ai/internal/transport/progress"
)

type runOptions struct {
	names   []string
	class   string
	failed  bool
	all     bool
	near    string
	radius  int
	nearest bool

	tickRate int
	junit    string
	noDB     bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run selected game tests",
		Long: `Run lays out the selected tests in batches and drives them to completion.
Select tests by --name, --class, --failed or --all, or by arena position
with --near. Exits non-zero when a required test fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			return runTests(cmd, e, opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.names, "name", nil, "test names to run (repeatable)")
	f.StringVar(&opts.class, "class", "", "run every test of a class")
	f.BoolVar(&opts.failed, "failed", false, "rerun tests that failed in the latest recorded run")
	f.BoolVar(&opts.all, "all", false, "run every test that is not manual-only")
	f.StringVar(&opts.near, "near", "", "run arenas near x,y,z of the laid out test world")
	f.IntVar(&opts.radius, "radius", 32, "search radius for --near")
	f.BoolVar(&opts.nearest, "nearest", false, "with --near, run only the closest arena")
	f.IntVar(&opts.tickRate, "tick-rate", 0, "ticks per second (overrides tick_rate_hz)")
	f.StringVar(&opts.junit, "junit", "", "write a JUnit XML report to this path")
	f.BoolVar(&opts.noDB, "no-db", false, "do not record results")
	cmd.MarkFlagsMutuallyExclusive("near", "name")
	cmd.MarkFlagsMutuallyExclusive("near", "class")
	cmd.MarkFlagsMutuallyExclusive("near", "failed")
	cmd.MarkFlagsMutuallyExclusive("near", "all")
	return cmd
}

func runTests(cmd *cobra.Command, e *env, opts *runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := e.cfg
	if opts.tickRate > 0 {
		cfg.TickRateHz = opts.tickRate
	}

	w, err := e.newWorld()
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}

	var db *resultdb.DB
	if !opts.noDB {
		db, err = resultdb.Open(filepath.Join(cfg.DataDir, "results.db"))
		if err != nil {
			return fmt.Errorf("open results db: %w", err)
		}
		defer db.Close()
	}

	sel, err := buildSelector(e, w, db, opts)
	if err != nil {
		return err
	}
	insts, err := sel.Instances(ctx)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	origin := geom.V(cfg.Origin[0], cfg.Origin[1], cfg.Origin[2])

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	events := eventlog.NewLogger(filepath.Join(cfg.DataDir, "events"), runID)
	defer events.Close()
	prog := progress.NewServer(runID, e.log)

	listeners := []gametest.Listener{
		report.Console{Logger: e.log},
		m.Listener(),
		events.Listener(),
		prog.Listener(),
	}
	if db != nil {
		listeners = append(listeners, db.Listener(runID))
	}
	var arenas *snapshot.Recorder
	if cfg.SnapshotFailures {
		arenas = snapshot.NewRecorder(filepath.Join(cfg.DataDir, "arenas", runID), runID)
		listeners = append(listeners, arenas)
	}

	r := gametest.NewRunner(gametest.RunnerConfig{
		World:        w,
		Spawner:      gametest.NewGridSpawner(origin, cfg.TestsPerRow, cfg.ClearBetweenBatches),
		Regions:      w,
		HaltOnError:  cfg.HaltOnError,
		MaxBatchSize: cfg.MaxBatchSize,
		Retry:        gametest.NewRetryPolicy(cfg.Retry.Tries, cfg.Retry.UntilFailed),
		Hooks:        e.registry.Hooks,
		Listeners:    listeners,
		Logger:       e.log,
	}, gametest.Partition(insts, cfg.MaxBatchSize, e.registry.Hooks))

	e.log.Info("run starting", "run", runID, "tests", len(insts), "tick_rate_hz", cfg.TickRateHz)
	started := time.Now()
	if db != nil {
		if err := db.SaveRun(resultdb.Run{ID: runID, StartedAt: started}); err != nil {
			e.log.Error("save run", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopServers := context.WithCancel(gctx)
	defer stopServers()

	serve(runCtx, g, e, "progress", cfg.ProgressListen, prog.Handler())
	serve(runCtx, g, e, "metrics", cfg.MetricsListen, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	g.Go(func() error {
		defer stopServers()
		if err := r.Start(); err != nil {
			return err
		}
		interval := time.Second / time.Duration(cfg.TickRateHz)
		err := r.Ticker().RunUntil(runCtx, interval, func() bool {
			m.Observe(r)
			prog.SetStatus(progress.StatusOf(runID, r))
			return r.Idle()
		})
		if err != nil {
			r.Stop()
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				e.log.Warn("run interrupted", "run", runID)
				return nil
			}
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	finished := time.Now()
	m.RecordVerdicts(r.FlakyVerdicts())
	sum := report.Build(runID, r, started, finished)

	if db != nil {
		if err := db.SaveRun(resultdb.Run{
			ID:             runID,
			StartedAt:      started,
			FinishedAt:     finished,
			Total:          sum.Counts.Total,
			Passed:         sum.Counts.Passed,
			FailedRequired: sum.Counts.FailedRequired,
			FailedOptional: sum.Counts.FailedOptional,
			Halted:         sum.Halted,
		}); err != nil {
			e.log.Error("save run", "err", err)
		}
		if err := db.Sync(context.Background()); err != nil {
			e.log.Error("sync results", "err", err)
		}
	}
	if err := events.Err(); err != nil {
		e.log.Error("event log", "err", err)
	}
	if arenas != nil {
		if err := arenas.Err(); err != nil {
			e.log.Error("arena snapshot", "err", err)
		}
		for _, path := range arenas.Written() {
			e.log.Info("arena snapshot", "path", path)
		}
	}
	if err := writeReports(cfg.DataDir, opts.junit, sum); err != nil {
		return err
	}
	if err := report.PrintSummary(cmd.OutOrStdout(), sum); err != nil {
		return err
	}
	if sum.Halted || sum.Counts.FailedRequired > 0 {
		return ErrTestsFailed
	}
	return nil
}

func buildSelector(e *env, w *voxel.World, db *resultdb.DB, opts *runOptions) (selector.Selector, error) {
	sel := selector.Selector{Registry: e.registry}
	var sources []selector.Definitions
	if len(opts.names) > 0 {
		sources = append(sources, selector.ByName(e.registry, opts.names...))
	}
	if opts.class != "" {
		sources = append(sources, selector.ByClass(e.registry, opts.class))
	}
	if opts.all {
		sources = append(sources, selector.All(e.registry))
	}
	if opts.failed {
		if db == nil {
			return sel, fmt.Errorf("--failed needs the results db")
		}
		sources = append(sources, selector.Failed(e.registry, db))
	}
	switch len(sources) {
	case 0:
	case 1:
		sel.Definitions = sources[0]
	default:
		return sel, fmt.Errorf("choose one of --name, --class, --all or --failed")
	}

	if opts.near != "" {
		pos, err := parseVec(opts.near)
		if err != nil {
			return sel, fmt.Errorf("--near: %w", err)
		}
		if err := layoutWorld(e, w); err != nil {
			return sel, err
		}
		if opts.nearest {
			sel.Locations = selector.Nearest(w, pos, opts.radius)
		} else {
			sel.Locations = selector.Within(w, pos, opts.radius)
		}
	}
	if sel.Definitions == nil && sel.Locations == nil {
		return sel, fmt.Errorf("nothing to run: pass --name, --class, --all, --failed or --near")
	}
	return sel, nil
}

// layoutWorld places an arena for every non-manual test on the configured
// grid, the way a persistent test world would hold them.
func layoutWorld(e *env, w *voxel.World) error {
	grid := gametest.NewGridSpawner(geom.V(e.cfg.Origin[0], e.cfg.Origin[1], e.cfg.Origin[2]), e.cfg.TestsPerRow, false)
	for _, d := range e.registry.All() {
		if d.ManualOnly {
			continue
		}
		size, err := w.StructureSize(d.Structure)
		if err != nil {
			return fmt.Errorf("layout %s: %w", d.Name, err)
		}
		box := grid.Next(size, d.Rotation)
		if _, err := w.PlaceStructure(d.Name, d.Structure, box.Min, d.Rotation); err != nil {
			return fmt.Errorf("layout %s: %w", d.Name, err)
		}
	}
	return nil
}

func parseVec(s string) (geom.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Vec3i{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geom.Vec3i{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		v[i] = n
	}
	return geom.V(v[0], v[1], v[2]), nil
}

func serve(ctx context.Context, g *errgroup.Group, e *env, name, addr string, h http.Handler) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		e.log.Info("listening", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func writeReports(dataDir, junitPath string, sum report.Summary) error {
	dir := filepath.Join(dataDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, sum.RunID+".json"), func(f *os.File) error {
		return report.WriteSummary(f, sum)
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if junitPath != "" {
		if err := writeFile(junitPath, func(f *os.File) error {
			return report.WriteJUnit(f, sum)
		}); err != nil {
			return fmt.Errorf("write junit: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
