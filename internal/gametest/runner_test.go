package gametest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeltest.ai/internal/sim/geom"
)

func passAt(tick int64) func(h *Helper) {
	return func(h *Helper) {
		h.SucceedWhen(func() error {
			if h.Tick() < tick {
				return Assertf("tick %d", h.Tick())
			}
			return nil
		})
	}
}

func failAt(tick int64) func(h *Helper) {
	return func(h *Helper) {
		h.RunAfterDelay(tick, func() error { return Assertf("boom") })
	}
}

func TestStartErrors(t *testing.T) {
	r := NewRunner(RunnerConfig{World: newFakeWorld()}, nil)
	assert.ErrorIs(t, r.Start(), ErrNoBatches)

	inst := NewInstance(def("a.long", passAt(10)))
	r = NewRunner(RunnerConfig{World: newFakeWorld()}, []*Batch{{Name: "b", Instances: []*Instance{inst}}})
	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), ErrAlreadyRunning)
}

func TestStartAfterFinishedRun(t *testing.T) {
	var before int
	hooks := func(string) BatchHooks { return BatchHooks{Before: func(World) { before++ }} }
	w := newFakeWorld()
	r, _ := runDefs(t, RunnerConfig{World: w, Hooks: hooks}, def("once.only", passAt(2)))
	stepUntilIdle(t, r, 10)
	placed := len(w.placed)

	assert.ErrorIs(t, r.Start(), ErrNoBatches)
	assert.True(t, r.Idle())
	assert.Equal(t, 1, before)
	assert.Equal(t, placed, len(w.placed))
	assert.Equal(t, 1, r.Passes())
}

func TestStartAfterStop(t *testing.T) {
	r, _ := runDefs(t, RunnerConfig{}, def("stopped.early", passAt(10)))
	r.Ticker().StepOnce()
	r.Stop()
	assert.ErrorIs(t, r.Start(), ErrNoBatches)
}

func TestBatchContinuesAfterRequiredFailure(t *testing.T) {
	var (
		r            *Runner
		after        int
		failedAtHook int
	)
	hooks := func(string) BatchHooks {
		return BatchHooks{After: func(World) {
			after++
			failedAtHook = r.BatchTracker().FailedRequiredCount()
		}}
	}
	a := NewInstance(def("trio.a", passAt(8)))
	b := NewInstance(def("trio.b", failAt(5)))
	c := NewInstance(def("trio.c", passAt(8)))
	r = NewRunner(RunnerConfig{World: newFakeWorld(), Hooks: hooks},
		Partition([]*Instance{a, b, c}, 50, hooks))
	require.NoError(t, r.Start())

	for i := 0; i < 5; i++ {
		r.Ticker().StepOnce()
	}
	require.True(t, b.Failed())
	assert.True(t, a.Running())
	assert.True(t, c.Running())
	assert.Equal(t, 0, after)

	stepUntilIdle(t, r, 20)
	assert.True(t, a.Passed())
	assert.True(t, c.Passed())
	assert.Equal(t, 1, after)
	assert.Equal(t, 1, failedAtHook)
	assert.Equal(t, 1, r.Progress().FailedRequiredCount())
	assert.False(t, r.Halted())

	var ae *AssertionError
	require.ErrorAs(t, b.Err(), &ae)
	assert.Equal(t, int64(5), ae.Tick)
}

func TestHaltOnRequiredFailure(t *testing.T) {
	var firstAfter, secondBefore, secondAfter int
	hooks := func(name string) BatchHooks {
		if name == "first" {
			return BatchHooks{After: func(World) { firstAfter++ }}
		}
		return BatchHooks{
			Before: func(World) { secondBefore++ },
			After:  func(World) { secondAfter++ },
		}
	}
	long := def("halt.long", passAt(50))
	long.Batch = "first"
	bad := def("halt.bad", failAt(1))
	bad.Batch = "first"
	next := def("halt.next", passAt(1))
	next.Batch = "second"

	r, insts := runDefs(t, RunnerConfig{HaltOnError: true, Hooks: hooks}, long, bad, next)
	stepUntilIdle(t, r, 10)

	assert.True(t, r.Halted())
	assert.Equal(t, 1, firstAfter)
	assert.Equal(t, 0, secondBefore)
	assert.Equal(t, 0, secondAfter)
	assert.True(t, insts[0].Running())
	assert.Equal(t, NotStarted, insts[2].State())
	assert.Zero(t, r.Ticker().Len())

	for i := 0; i < 5; i++ {
		r.Ticker().StepOnce()
	}
	assert.Equal(t, 1, firstAfter)
}

func TestOptionalFailureDoesNotHalt(t *testing.T) {
	opt := def("opt.bad", failAt(1))
	opt.Optional = true
	opt.Batch = "one"
	next := def("opt.next", passAt(1))
	next.Batch = "two"

	r, insts := runDefs(t, RunnerConfig{HaltOnError: true}, opt, next)
	stepUntilIdle(t, r, 10)

	assert.False(t, r.Halted())
	assert.True(t, insts[0].Failed())
	assert.True(t, insts[1].Passed())
	assert.Equal(t, 1, r.Progress().FailedOptionalCount())
	assert.True(t, r.Progress().AllRequiredPassed())
}

func TestMissingStructureFailsWithoutTicking(t *testing.T) {
	d := def("setup.missing", passAt(1))
	d.Structure = "nope"
	r, insts := runDefs(t, RunnerConfig{}, d)

	assert.True(t, r.Idle())
	require.True(t, insts[0].Failed())
	assert.Equal(t, CodeSetup, Code(insts[0].Err()))
}

func TestStopRunsAfterHookOnce(t *testing.T) {
	var after int
	hooks := func(string) BatchHooks { return BatchHooks{After: func(World) { after++ }} }
	r, insts := runDefs(t, RunnerConfig{Hooks: hooks}, def("stop.long", passAt(100)))

	r.Ticker().StepOnce()
	r.Stop()
	r.Stop()

	assert.True(t, r.Idle())
	assert.Equal(t, 1, after)
	assert.Zero(t, r.Ticker().Len())
	assert.True(t, insts[0].Running())
}

func TestBatchesRunSequentially(t *testing.T) {
	var log []string
	hooks := func(name string) BatchHooks {
		return BatchHooks{
			Before: func(World) { log = append(log, "before "+name) },
			After:  func(World) { log = append(log, "after "+name) },
		}
	}
	a := def("seqb.a", passAt(2))
	a.Batch = "x"
	b := def("seqb.b", passAt(1))
	b.Batch = "y"
	r, insts := runDefs(t, RunnerConfig{Hooks: hooks}, a, b)

	assert.Equal(t, NotStarted, insts[1].State())
	stepUntilIdle(t, r, 10)
	assert.Equal(t, []string{"before x", "after x", "before y", "after y"}, log)
}

func TestRegionsHeldWhileBatchRuns(t *testing.T) {
	h := &holder{}
	r, _ := runDefs(t, RunnerConfig{Regions: h}, def("hold.a", passAt(2)), def("hold.b", passAt(2)))
	assert.Equal(t, 2, h.held)
	stepUntilIdle(t, r, 10)
	assert.Zero(t, h.held)
}

type holder struct{ held int }

func (h *holder) Hold(geom.Box)    { h.held++ }
func (h *holder) Release(geom.Box) { h.held-- }

func TestFlakyPassesAfterEnoughSuccesses(t *testing.T) {
	d := def("flaky.two_of_three", func(h *Helper) {
		if h.Instance().Attempt() == 1 {
			h.Failf("first attempt")
			return
		}
		h.Succeed()
	})
	d.RequiredSuccesses = 2
	d.MaxAttempts = 3
	l := &countingListener{}
	r, _ := runDefs(t, RunnerConfig{HaltOnError: true, Listeners: []Listener{l}}, d)
	stepUntilIdle(t, r, 10)

	assert.False(t, r.Halted())
	require.Len(t, r.Instances(), 3)
	assert.Equal(t, 2, l.reruns)
	verdicts := r.FlakyVerdicts()
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Passed)
	assert.Equal(t, 3, verdicts[0].Attempts)
	assert.Equal(t, 2, verdicts[0].Successes)
}

func TestFlakyExhaustedImmediately(t *testing.T) {
	d := def("flaky.all_three", func(h *Helper) { h.Failf("nope") })
	d.RequiredSuccesses = 3
	d.MaxAttempts = 3
	var failed []Event
	sink := EventListener(func(e Event) {
		if e.Kind == EventFailed {
			failed = append(failed, e)
		}
	})
	r, insts := runDefs(t, RunnerConfig{Listeners: []Listener{sink}}, d)
	stepUntilIdle(t, r, 10)

	require.Len(t, r.Instances(), 1)
	verdicts := r.FlakyVerdicts()
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Passed)
	var ex *ExhaustedAttemptsError
	require.ErrorAs(t, verdicts[0].Err, &ex)
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, 0, ex.Successes)
	assert.Equal(t, 3, ex.RequiredSuccesses)
	var assertion *AssertionError
	assert.ErrorAs(t, ex, &assertion)
	assert.Equal(t, CodeExhausted, Code(verdicts[0].Err))

	assert.Equal(t, CodeExhausted, Code(insts[0].Err()))
	require.Len(t, failed, 1)
	assert.Equal(t, CodeExhausted, failed[0].Code)
	assert.Contains(t, failed[0].Error, "not enough successes")
	assert.Contains(t, failed[0].Error, "nope")
}

func TestFlakyIntermediateFailureKeepsOwnCause(t *testing.T) {
	d := def("flaky.late", func(h *Helper) {
		if h.Instance().Attempt() == 1 {
			h.Failf("first")
			return
		}
		h.Succeed()
	})
	d.MaxAttempts = 2
	r, insts := runDefs(t, RunnerConfig{}, d)
	stepUntilIdle(t, r, 10)

	require.Len(t, r.Instances(), 2)
	assert.Equal(t, CodeAssertion, Code(insts[0].Err()))
	assert.True(t, r.Instances()[1].Passed())
}

func TestRetryFixedCount(t *testing.T) {
	r, _ := runDefs(t, RunnerConfig{Retry: NewRetryPolicy(3, false)}, def("retry.ok", passAt(1)))
	stepUntilIdle(t, r, 20)

	insts := r.Instances()
	require.Len(t, insts, 3)
	for i, inst := range insts {
		assert.Equal(t, i+1, inst.Attempt())
		assert.True(t, inst.Passed())
	}
	assert.Equal(t, 3, r.Passes())
}

func TestRetryUntilFailed(t *testing.T) {
	d := def("retry.until", func(h *Helper) {
		if h.Instance().Attempt() == 3 {
			h.Failf("finally")
			return
		}
		h.Succeed()
	})
	r, _ := runDefs(t, RunnerConfig{Retry: NewRetryPolicy(0, true)}, d)
	stepUntilIdle(t, r, 10)

	insts := r.Instances()
	require.Len(t, insts, 3)
	assert.True(t, insts[2].Failed())
	assert.True(t, insts[1].RerunScheduled())
	assert.False(t, insts[2].RerunScheduled())
}

func TestRetrySkipsSetupErrors(t *testing.T) {
	d := def("retry.setup", passAt(1))
	d.Structure = "missing"
	r, _ := runDefs(t, RunnerConfig{Retry: NewRetryPolicy(5, false)}, d)
	stepUntilIdle(t, r, 10)
	assert.Len(t, r.Instances(), 1)
}

func TestFlakySkipsSetupErrors(t *testing.T) {
	double := def("flaky.double", func(h *Helper) {
		h.SucceedWhen(func() error { return nil })
		h.SucceedWhen(func() error { return nil })
	})
	double.MaxAttempts = 3
	missing := def("flaky.missing", passAt(1))
	missing.Structure = "missing"
	missing.MaxAttempts = 5

	for _, d := range []Definition{double, missing} {
		t.Run(d.Name, func(t *testing.T) {
			l := &countingListener{}
			r, _ := runDefs(t, RunnerConfig{Listeners: []Listener{l}}, d)
			stepUntilIdle(t, r, 10)

			require.Len(t, r.Instances(), 1)
			assert.Zero(t, l.reruns)
			assert.Equal(t, CodeSetup, Code(r.Instances()[0].Err()))
			verdicts := r.FlakyVerdicts()
			require.Len(t, verdicts, 1)
			assert.False(t, verdicts[0].Passed)
			assert.Equal(t, 1, verdicts[0].Attempts)
			assert.Equal(t, CodeSetup, Code(verdicts[0].Err))
		})
	}
}

func TestRerunWhenIdleStartsNewPass(t *testing.T) {
	var events []Event
	r, insts := runDefs(t, RunnerConfig{Listeners: []Listener{EventListener(func(e Event) { events = append(events, e) })}},
		def("rerun.idle", passAt(1)))
	stepUntilIdle(t, r, 10)
	require.True(t, r.Idle())

	next := r.RerunTest(insts[0])
	assert.False(t, r.Idle())
	assert.Equal(t, 2, next.Attempt())
	assert.True(t, next.Running())
	stepUntilIdle(t, r, 10)
	assert.True(t, next.Passed())

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{
		EventStructureLoaded, EventPassed, EventRerun, EventStructureLoaded, EventPassed,
	}, kinds)
	assert.Equal(t, 2, events[2].Attempt)
}

func TestInPlaceInstanceKeepsOrigin(t *testing.T) {
	w := newFakeWorld()
	inst := NewInstanceAt(def("place.here", passAt(1)), geom.V(40, 5, -7), geom.Rot90)
	r := NewRunner(RunnerConfig{World: w}, []*Batch{{Name: "here", Instances: []*Instance{inst}}})
	require.NoError(t, r.Start())
	stepUntilIdle(t, r, 5)

	assert.True(t, inst.Passed())
	assert.Equal(t, geom.V(40, 5, -7), inst.Origin())
	assert.Equal(t, geom.V(3, 2, 3), inst.Bounds().Size())
}

func TestHelperAbsStaysInsideArena(t *testing.T) {
	w := newFakeWorld()
	w.sizes["long"] = geom.V(4, 1, 2)
	var outside []geom.Vec3i
	d := def("abs.rot", func(h *Helper) {
		box := h.Instance().Bounds()
		for x := 0; x < 4; x++ {
			for z := 0; z < 2; z++ {
				if p := h.Abs(geom.V(x, 0, z)); !box.Contains(p) {
					outside = append(outside, p)
				}
			}
		}
		h.Succeed()
	})
	d.Structure = "long"
	d.Rotation = geom.Rot90
	r, insts := runDefs(t, RunnerConfig{World: w}, d)
	stepUntilIdle(t, r, 5)

	require.True(t, insts[0].Passed())
	assert.Empty(t, outside)
	assert.Equal(t, geom.V(2, 1, 4), insts[0].Bounds().Size())
}
