package gametest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"voxeltest.ai/internal/sim/geom"
)

type fakeWorld struct {
	sizes   map[string]geom.Vec3i
	placed  []geom.Box
	cleared []geom.Box
	blocks  map[geom.Vec3i]string
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		sizes:  map[string]geom.Vec3i{"arena": geom.V(3, 2, 3)},
		blocks: map[geom.Vec3i]string{},
	}
}

func (w *fakeWorld) StructureSize(name string) (geom.Vec3i, error) {
	s, ok := w.sizes[name]
	if !ok {
		return geom.Vec3i{}, fmt.Errorf("unknown structure %q", name)
	}
	return s, nil
}

func (w *fakeWorld) PlaceStructure(_, name string, origin geom.Vec3i, rot geom.Rotation) (geom.Box, error) {
	size, err := w.StructureSize(name)
	if err != nil {
		return geom.Box{}, err
	}
	box := geom.PlaceBox(origin, size, rot)
	w.placed = append(w.placed, box)
	return box, nil
}

func (w *fakeWorld) ClearRegion(box geom.Box, _ int) error {
	w.cleared = append(w.cleared, box)
	return nil
}

func (w *fakeWorld) BlockAt(p geom.Vec3i) string {
	if b, ok := w.blocks[p]; ok {
		return b
	}
	return "air"
}

func (w *fakeWorld) SetBlock(p geom.Vec3i, block string) error {
	w.blocks[p] = block
	return nil
}

type countingListener struct {
	loaded, passed, failed, reruns int
}

func (l *countingListener) OnStructureLoaded(*Instance)                   { l.loaded++ }
func (l *countingListener) OnPassed(*Instance, *Runner)                   { l.passed++ }
func (l *countingListener) OnFailed(*Instance, *Runner)                   { l.failed++ }
func (l *countingListener) OnAddedForRerun(*Instance, *Instance, *Runner) { l.reruns++ }

func def(name string, fn func(h *Helper)) Definition {
	return Definition{Name: name, Structure: "arena", Fn: fn}
}

// runDefs builds one instance per definition, partitions them and starts a
// runner over a fake world.
func runDefs(t *testing.T, cfg RunnerConfig, defs ...Definition) (*Runner, []*Instance) {
	t.Helper()
	if cfg.World == nil {
		cfg.World = newFakeWorld()
	}
	insts := make([]*Instance, 0, len(defs))
	for _, d := range defs {
		insts = append(insts, NewInstance(d))
	}
	r := NewRunner(cfg, Partition(insts, cfg.MaxBatchSize, cfg.Hooks))
	require.NoError(t, r.Start())
	return r, insts
}

// stepUntilIdle drives the ticker until the runner is idle and returns the
// number of steps taken.
func stepUntilIdle(t *testing.T, r *Runner, limit int) int {
	t.Helper()
	n := 0
	for !r.Idle() {
		require.Less(t, n, limit, "runner still busy after %d ticks", limit)
		r.Ticker().StepOnce()
		n++
	}
	return n
}
