package gametest

import (
	"fmt"
	"sort"
	"time"

	"voxeltest.ai/internal/sim/geom"
)

type State int

const (
	NotStarted State = iota
	Running
	Passed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Passed:
		return "PASSED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Instance is one executable attempt of a test definition. Once terminal it
// never changes again; reruns get a fresh Instance.
type Instance struct {
	def      Definition
	rotation geom.Rotation
	attempt  int

	runner *Runner
	world  World

	origin    geom.Vec3i
	presetPos bool
	box       geom.Box

	state State
	err   error

	tick        int64
	bodyStarted bool
	bodyStart   int64
	sequences   []*Sequence
	atTick      map[int64][]func() error
	lastWaiting error
	finalCheck  bool

	listeners      []Listener
	rerunScheduled bool

	startedAt  time.Time
	finishedAt time.Time
}

// NewInstance creates the first attempt of def. Its arena is allocated by the
// runner's spawner.
func NewInstance(def Definition) *Instance {
	def = def.normalize()
	return &Instance{def: def, rotation: def.Rotation, attempt: 1}
}

// NewInstanceAt creates an instance for an arena that already exists in the
// world at origin.
func NewInstanceAt(def Definition, origin geom.Vec3i, rot geom.Rotation) *Instance {
	inst := NewInstance(def)
	inst.origin = origin
	inst.rotation = rot
	inst.presetPos = true
	return inst
}

func (i *Instance) copyForRerun() *Instance {
	next := &Instance{
		def:       i.def,
		rotation:  i.rotation,
		attempt:   i.attempt + 1,
		presetPos: i.presetPos,
	}
	if i.presetPos {
		next.origin = i.origin
	}
	return next
}

func (i *Instance) Name() string            { return i.def.Name }
func (i *Instance) Definition() Definition  { return i.def }
func (i *Instance) Attempt() int            { return i.attempt }
func (i *Instance) Required() bool          { return i.def.Required() }
func (i *Instance) Rotation() geom.Rotation { return i.rotation }
func (i *Instance) Origin() geom.Vec3i      { return i.origin }
func (i *Instance) Bounds() geom.Box        { return i.box }
func (i *Instance) HasPresetOrigin() bool   { return i.presetPos }
func (i *Instance) State() State            { return i.state }
func (i *Instance) Err() error              { return i.err }
func (i *Instance) Runner() *Runner         { return i.runner }
func (i *Instance) World() World            { return i.world }
func (i *Instance) RerunScheduled() bool    { return i.rerunScheduled }
func (i *Instance) Running() bool           { return i.state == Running }
func (i *Instance) Passed() bool            { return i.state == Passed }
func (i *Instance) Failed() bool            { return i.state == Failed }
func (i *Instance) Done() bool              { return i.state == Passed || i.state == Failed }
func (i *Instance) AddListener(l Listener)  { i.listeners = append(i.listeners, l) }
func (i *Instance) Tick() int64             { return i.tick }

// Elapsed is the number of ticks since the test body started.
func (i *Instance) Elapsed() int64 {
	if !i.bodyStarted {
		return 0
	}
	return i.tick - i.bodyStart
}

// Duration is the wall-clock time between placement and the terminal state.
func (i *Instance) Duration() time.Duration {
	if i.startedAt.IsZero() {
		return 0
	}
	if i.finishedAt.IsZero() {
		return time.Since(i.startedAt)
	}
	return i.finishedAt.Sub(i.startedAt)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s#%d[%s]", i.def.Name, i.attempt, i.state)
}

func (i *Instance) bind(r *Runner, w World) {
	i.runner = r
	i.world = w
}

// start moves a placed instance to Running. The tick counter is zero at
// placement time.
func (i *Instance) start(box geom.Box) {
	if i.state != NotStarted {
		return
	}
	i.box = box
	i.origin = box.Min
	i.state = Running
	i.startedAt = time.Now()
	for _, l := range i.listeners {
		l.OnStructureLoaded(i)
	}
}

// begin runs the test body right away when the definition has no setup
// ticks. It is called once the instance is registered with the ticker.
func (i *Instance) begin() {
	if i.state == Running && !i.bodyStarted && i.def.SetupTicks == 0 {
		i.guard(i.runBody)
	}
}

func (i *Instance) runBody() {
	i.bodyStarted = true
	i.bodyStart = i.tick
	i.def.Fn(&Helper{inst: i})
}

// Succeed passes a running instance. Further calls are no-ops.
func (i *Instance) Succeed() {
	if i.state != Running {
		return
	}
	i.state = Passed
	i.finishedAt = time.Now()
	for _, l := range i.listeners {
		l.OnPassed(i, i.runner)
	}
}

// Fail records cause and fails the instance. Only the first failure is kept.
func (i *Instance) Fail(cause error) {
	if i.Done() {
		return
	}
	if cause == nil {
		cause = &AssertionError{Msg: "failed", Tick: i.tick}
	}
	i.state = Failed
	i.err = cause
	i.finishedAt = time.Now()
	for _, l := range i.listeners {
		l.OnFailed(i, i.runner)
	}
}

func (i *Instance) newSequence() *Sequence {
	s := newSequence(i)
	i.sequences = append(i.sequences, s)
	return s
}

// RunAtTickTime schedules fn for the given absolute instance tick. Callbacks
// due on the same tick run before that tick's sequence steps.
func (i *Instance) RunAtTickTime(tick int64, fn func() error) {
	if i.atTick == nil {
		i.atTick = map[int64][]func() error{}
	}
	i.atTick[tick] = append(i.atTick[tick], fn)
}

// advance runs one tick: due callbacks in ascending tick order, then every
// sequence, then the timeout check.
func (i *Instance) advance() {
	if i.state != Running {
		return
	}
	i.tick++
	i.guard(i.advanceGuarded)
}

func (i *Instance) advanceGuarded() {
	if !i.bodyStarted {
		if i.tick >= int64(i.def.SetupTicks) {
			i.runBody()
		}
		return
	}

	if len(i.atTick) > 0 {
		due := make([]int64, 0, len(i.atTick))
		for t := range i.atTick {
			if t <= i.tick {
				due = append(due, t)
			}
		}
		sort.Slice(due, func(a, b int) bool { return due[a] < due[b] })
		for _, t := range due {
			fns := i.atTick[t]
			delete(i.atTick, t)
			for _, fn := range fns {
				if !i.Running() {
					return
				}
				if err := fn(); err != nil {
					i.Fail(stampTick(err, i.tick))
				}
			}
		}
	}

	i.lastWaiting = nil
	for _, s := range i.sequences {
		if !i.Running() {
			return
		}
		if w := s.tick(i.tick); w != nil && i.lastWaiting == nil {
			i.lastWaiting = w
		}
	}

	if i.Running() && i.Elapsed() >= int64(i.def.TimeoutTicks) {
		pending := 0
		for _, s := range i.sequences {
			pending += s.Pending()
		}
		i.Fail(&TimeoutError{TimeoutTicks: i.def.TimeoutTicks, Pending: pending, Cause: i.lastWaiting})
	}
}

// guard turns a panic in test code into a setup failure of this instance.
func (i *Instance) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			i.Fail(&SetupError{Msg: "panic in test", Cause: fmt.Errorf("%v", r)})
		}
	}()
	fn()
}
