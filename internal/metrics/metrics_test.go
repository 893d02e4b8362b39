package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/structures"
	"voxeltest.ai/internal/sim/voxel"
)

func newRunner(t *testing.T, m *Metrics, defs ...gametest.Definition) *gametest.Runner {
	t.Helper()
	cats := &structures.Catalog{}
	require.NoError(t, cats.Add(structures.Def{ID: "pad", Size: [3]int{3, 1, 3}}))
	w, err := voxel.New(voxel.Config{Structures: cats})
	require.NoError(t, err)

	var insts []*gametest.Instance
	for _, d := range defs {
		insts = append(insts, gametest.NewInstance(d))
	}
	r := gametest.NewRunner(gametest.RunnerConfig{
		World:     w,
		Listeners: []gametest.Listener{m.Listener()},
	}, gametest.Partition(insts, 0, nil))
	return r
}

func drive(t *testing.T, r *gametest.Runner) {
	t.Helper()
	for i := 0; !r.Idle(); i++ {
		require.Less(t, i, 50)
		r.Ticker().StepOnce()
	}
}

func TestListenerCountsOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := newRunner(t, m,
		gametest.Definition{Name: "ok.instant", Structure: "pad", Fn: func(h *gametest.Helper) { h.Succeed() }},
		gametest.Definition{Name: "bad.optional", Structure: "pad", Optional: true, Fn: func(h *gametest.Helper) {
			h.Fail(gametest.Assertf("nope"))
		}},
		gametest.Definition{Name: "flaky.second", Structure: "pad", MaxAttempts: 2, Fn: func(h *gametest.Helper) {
			if h.Instance().Attempt() == 1 {
				h.Failf("first")
				return
			}
			h.Succeed()
		}},
	)
	require.NoError(t, r.Start())
	drive(t, r)
	m.Observe(r)
	m.RecordVerdicts(r.FlakyVerdicts())

	assert.Equal(t, 4.0, testutil.ToFloat64(m.StructuresLoaded.WithLabelValues(gametest.DefaultBatch)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Passed.WithLabelValues(gametest.DefaultBatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failed.WithLabelValues(gametest.DefaultBatch, "false", gametest.CodeAssertion)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failed.WithLabelValues(gametest.DefaultBatch, "true", gametest.CodeAssertion)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reruns.WithLabelValues(gametest.DefaultBatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlakyVerdict.WithLabelValues("true")))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Halted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PassesTotal))
}

func TestObserveWhileRunning(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := newRunner(t, m, gametest.Definition{Name: "slow.wait", Structure: "pad", Fn: func(h *gametest.Helper) {
		h.RunAfterDelay(3, func() error { h.Succeed(); return nil })
	}})
	require.NoError(t, r.Start())
	r.Ticker().StepOnce()
	m.Observe(r)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tick))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
