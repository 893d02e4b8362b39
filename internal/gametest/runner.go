package gametest

import (
	"io"

	"github.com/charmbracelet/log"

	"voxeltest.ai/internal/sim/geom"
)

type RunnerConfig struct {
	World  World
	Ticker *Ticker
	// Spawner allocates arenas for new instances. Defaults to a grid at the
	// world origin, 8 tests per row, cleared between batches.
	Spawner Spawner
	// InPlace rebuilds arenas for instances that already carry an origin.
	InPlace Spawner
	// Regions is optional; when set, arena chunks are held while a batch runs.
	Regions RegionHolder

	HaltOnError  bool
	MaxBatchSize int
	// Retry reruns finished non-flaky instances. Flaky definitions are always
	// rerun according to their own attempt counts.
	Retry RetryPolicy
	// Hooks supplies batch hooks when reruns are partitioned into new batches.
	Hooks func(batch string) BatchHooks
	// Listeners are attached to every instance the runner owns, reruns included.
	Listeners []Listener

	Logger *log.Logger
}

type activeBatch struct {
	batch   *Batch
	tracker *Tracker
	held    []geom.Box
	ended   bool
}

// Runner advances batches one at a time on a cooperative, single-threaded
// tick loop.
type Runner struct {
	cfg RunnerConfig
	log *log.Logger

	batches []*Batch
	current int
	active  *activeBatch

	running    bool
	activating bool
	halted     bool
	passes     int

	all           []*Instance
	pendingReruns []*Instance
	verdicts      map[string]Verdict
}

func NewRunner(cfg RunnerConfig, batches []*Batch) *Runner {
	if cfg.Ticker == nil {
		cfg.Ticker = NewTicker()
	}
	if cfg.Spawner == nil {
		cfg.Spawner = NewGridSpawner(geom.Vec3i{}, 8, true)
	}
	if cfg.InPlace == nil {
		cfg.InPlace = InPlaceSpawner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	builtin := []Listener{NewFlakyListener()}
	if cfg.Retry.HasRetries() {
		builtin = append(builtin, NewRetryListener(cfg.Retry))
	}
	cfg.Listeners = append(builtin, cfg.Listeners...)
	r := &Runner{cfg: cfg, log: logger, batches: batches}
	for _, b := range batches {
		for _, inst := range b.Instances {
			r.adopt(inst)
		}
	}
	return r
}

func (r *Runner) adopt(inst *Instance) {
	inst.bind(r, r.cfg.World)
	for _, l := range r.cfg.Listeners {
		inst.AddListener(l)
	}
	r.all = append(r.all, inst)
}

// AddListener attaches l to every instance created so far and to all
// future ones.
func (r *Runner) AddListener(l Listener) {
	r.cfg.Listeners = append(r.cfg.Listeners, l)
	for _, inst := range r.all {
		inst.AddListener(l)
	}
}

func (r *Runner) Ticker() *Ticker { return r.cfg.Ticker }
func (r *Runner) World() World    { return r.cfg.World }

// Instances lists every instance the runner has created, in creation order.
func (r *Runner) Instances() []*Instance { return append([]*Instance(nil), r.all...) }

// Progress is a tracker over every instance, for display only.
func (r *Runner) Progress() *Tracker { return &Tracker{tests: r.Instances()} }

// BatchTracker is the tracker of the active batch, or nil.
func (r *Runner) BatchTracker() *Tracker {
	if r.active == nil {
		return nil
	}
	return r.active.tracker
}

func (r *Runner) Idle() bool   { return !r.running }
func (r *Runner) Halted() bool { return r.halted }

// Passes is the number of scheduling passes started so far; each rerun round
// is a new pass.
func (r *Runner) Passes() int { return r.passes }

// Start runs the batches given to NewRunner. Batches are consumed: once a run
// has finished or been stopped, Start returns ErrNoBatches.
func (r *Runner) Start() error {
	if r.running {
		return ErrAlreadyRunning
	}
	if len(r.batches) == 0 && len(r.pendingReruns) == 0 {
		return ErrNoBatches
	}
	r.running = true
	r.halted = false
	r.current = 0
	r.passes++
	r.runBatches()
	return nil
}

// Stop halts the run immediately. The active batch's after hook still runs.
func (r *Runner) Stop() {
	if !r.running {
		return
	}
	r.log.Info("runner stopped", "batch", r.activeName())
	r.teardown()
}

// RerunTest schedules a fresh attempt of a finished instance. If the runner is
// idle a new pass over the pending reruns starts right away.
func (r *Runner) RerunTest(inst *Instance) *Instance {
	next := inst.copyForRerun()
	r.adopt(next)
	inst.rerunScheduled = true
	r.pendingReruns = append(r.pendingReruns, next)
	for _, l := range inst.listeners {
		l.OnAddedForRerun(inst, next, r)
	}
	r.log.Debug("rerun scheduled", "test", inst.Name(), "attempt", next.Attempt())
	if !r.running {
		r.batches = nil
		r.current = 0
		r.running = true
		r.halted = false
		r.runBatches()
	}
	return next
}

func (r *Runner) runBatches() {
	for r.running {
		if r.current >= len(r.batches) {
			if len(r.pendingReruns) == 0 {
				r.running = false
				r.active = nil
				r.batches = nil
				r.current = 0
				r.log.Info("run finished", "tests", len(r.all))
				return
			}
			r.batches = Partition(r.pendingReruns, r.cfg.MaxBatchSize, r.cfg.Hooks)
			r.pendingReruns = nil
			r.current = 0
			r.passes++
			r.log.Info("running reruns", "batches", len(r.batches), "pass", r.passes)
			continue
		}
		if !r.activate(r.batches[r.current]) {
			return
		}
		r.endBatch()
		r.current++
	}
}

// activate sets up a batch and reports whether it finished synchronously.
func (r *Runner) activate(b *Batch) bool {
	w := r.cfg.World
	ab := &activeBatch{batch: b}
	r.active = ab
	r.activating = true
	defer func() { r.activating = false }()

	r.log.Info("batch started", "batch", b.Name, "tests", len(b.Instances))

	var fresh, inPlace []*Instance
	for _, inst := range b.Instances {
		if inst.HasPresetOrigin() {
			inPlace = append(inPlace, inst)
		} else {
			fresh = append(fresh, inst)
		}
	}
	if err := r.cfg.Spawner.OnBatchStart(w); err != nil {
		r.log.Warn("clear previous batch", "batch", b.Name, "err", err)
	}
	r.cfg.Spawner.Spawn(w, fresh)
	r.cfg.InPlace.Spawn(w, inPlace)
	if r.cfg.Regions != nil {
		for _, inst := range b.Instances {
			if inst.Running() {
				r.cfg.Regions.Hold(inst.Bounds())
				ab.held = append(ab.held, inst.Bounds())
			}
		}
	}

	if b.Before != nil {
		b.Before(w)
	}

	ab.tracker = NewTracker(b.Instances...)
	ab.tracker.AddListener(batchListener{r: r, ab: ab})
	for _, inst := range b.Instances {
		if !inst.Done() {
			r.cfg.Ticker.Add(inst)
		}
	}
	for _, inst := range b.Instances {
		if !r.running {
			return false
		}
		inst.begin()
	}

	if !r.running {
		return false
	}
	if r.cfg.HaltOnError {
		for _, inst := range b.Instances {
			if haltsRun(inst) {
				r.halt(inst)
				return false
			}
		}
	}
	return ab.tracker.IsDone()
}

func haltsRun(inst *Instance) bool {
	return inst.Failed() && inst.Required() && !inst.RerunScheduled()
}

type batchListener struct {
	NopListener
	r  *Runner
	ab *activeBatch
}

func (l batchListener) OnPassed(inst *Instance, _ *Runner) { l.r.onTestDone(l.ab, inst) }
func (l batchListener) OnFailed(inst *Instance, _ *Runner) { l.r.onTestDone(l.ab, inst) }

func (r *Runner) onTestDone(ab *activeBatch, inst *Instance) {
	if ab != r.active || ab.ended || !r.running {
		return
	}
	if r.cfg.HaltOnError && haltsRun(inst) {
		r.halt(inst)
		return
	}
	if r.activating || !ab.tracker.IsDone() {
		return
	}
	r.endBatch()
	r.current++
	r.runBatches()
}

func (r *Runner) halt(inst *Instance) {
	r.log.Error("required test failed, halting", "batch", r.activeName(), "test", inst.Name(), "err", inst.Err())
	r.halted = true
	r.teardown()
}

func (r *Runner) teardown() {
	ab := r.active
	r.endBatch()
	if ab != nil {
		var live []*Instance
		for _, inst := range ab.batch.Instances {
			if !inst.Done() {
				live = append(live, inst)
			}
		}
		r.cfg.Ticker.Remove(live...)
	}
	r.running = false
	r.batches = nil
	r.pendingReruns = nil
}

// endBatch runs the after hook and releases held regions, once per activation.
func (r *Runner) endBatch() {
	ab := r.active
	if ab == nil || ab.ended {
		return
	}
	ab.ended = true
	if ab.batch.After != nil {
		ab.batch.After(r.cfg.World)
	}
	if r.cfg.Regions != nil {
		for _, box := range ab.held {
			r.cfg.Regions.Release(box)
		}
	}
	r.log.Info("batch finished", "batch", ab.batch.Name, "progress", ab.tracker.ProgressBar(),
		"failed_required", ab.tracker.FailedRequiredCount(), "failed_optional", ab.tracker.FailedOptionalCount())
}

func (r *Runner) activeName() string {
	if r.active == nil {
		return ""
	}
	return r.active.batch.Name
}
