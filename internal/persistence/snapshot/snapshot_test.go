package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/geom"
	"voxeltest.ai/internal/sim/structures"
	"voxeltest.ai/internal/sim/voxel"
)

func padWorld(t *testing.T) *voxel.World {
	t.Helper()
	pad := structures.Def{ID: "pad", Size: [3]int{3, 2, 3}}
	for x := 0; x < 3; x++ {
		for z := 0; z < 3; z++ {
			pad.Blocks = append(pad.Blocks, structures.BlockSpec{Pos: [3]int{x, 0, z}, Block: "stone"})
		}
	}
	cats := &structures.Catalog{}
	require.NoError(t, cats.Add(pad))
	w, err := voxel.New(voxel.Config{Palette: []string{"stone", "gold"}, Structures: cats})
	require.NoError(t, err)
	return w
}

func TestCaptureRuns(t *testing.T) {
	w := padWorld(t)
	_, err := w.PlaceStructure("t", "pad", geom.V(10, 4, -3), geom.Rot0)
	require.NoError(t, err)
	require.NoError(t, w.SetBlock(geom.V(11, 5, -2), "gold"))

	box := geom.Box{Min: geom.V(10, 4, -3), Max: geom.V(12, 5, -1)}
	a := Capture(w, box)

	assert.Equal(t, []string{"stone", "air", "gold"}, a.Palette)
	assert.Equal(t, []Run{{ID: 0, Count: 9}, {ID: 1, Count: 4}, {ID: 2, Count: 1}, {ID: 1, Count: 4}}, a.Runs)

	box.Each(func(p geom.Vec3i) {
		assert.Equal(t, w.BlockAt(p), a.BlockAt(p), "at %s", p)
	})
	assert.Equal(t, "", a.BlockAt(geom.V(0, 0, 0)))
}

func TestWriteReadArena(t *testing.T) {
	w := padWorld(t)
	box := geom.Box{Min: geom.V(0, 0, 0), Max: geom.V(2, 1, 2)}
	_, err := w.PlaceStructure("t", "pad", box.Min, geom.Rot0)
	require.NoError(t, err)

	a := Capture(w, box)
	a.Header.Test = "floor.check"
	a.Header.Attempt = 2

	path := filepath.Join(t.TempDir(), "nested", "floor.arena.zst")
	require.NoError(t, WriteArena(path, a))

	got, err := ReadArena(path)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, "stone", got.BlockAt(geom.V(1, 0, 1)))
	assert.Equal(t, "air", got.BlockAt(geom.V(1, 1, 1)))
}

func TestReadArenaMissing(t *testing.T) {
	_, err := ReadArena(filepath.Join(t.TempDir(), "nope.zst"))
	assert.Error(t, err)
}

func TestRecorderSnapshotsFailures(t *testing.T) {
	w := padWorld(t)
	dir := t.TempDir()
	rec := NewRecorder(dir, "run-1")

	defs := []gametest.Definition{
		{Name: "gold.missing", Structure: "pad", Fn: func(h *gametest.Helper) {
			require.NoError(t, h.SetBlock(geom.V(1, 1, 1), "gold"))
			h.Fail(gametest.Assertf("expected no gold"))
		}},
		{Name: "floor.ok", Structure: "pad", Fn: func(h *gametest.Helper) { h.Succeed() }},
	}
	var insts []*gametest.Instance
	for _, d := range defs {
		insts = append(insts, gametest.NewInstance(d))
	}
	r := gametest.NewRunner(gametest.RunnerConfig{
		World:     w,
		Listeners: []gametest.Listener{rec},
	}, gametest.Partition(insts, 0, nil))
	require.NoError(t, r.Start())
	for i := 0; !r.Idle(); i++ {
		require.Less(t, i, 20)
		r.Ticker().StepOnce()
	}

	require.NoError(t, rec.Err())
	written := rec.Written()
	require.Len(t, written, 1)
	assert.Equal(t, filepath.Join(dir, "gold.missing-1.arena.zst"), written[0])

	a, err := ReadArena(written[0])
	require.NoError(t, err)
	assert.Equal(t, "run-1", a.Header.RunID)
	assert.Equal(t, "gold.missing", a.Header.Test)
	assert.Equal(t, 1, a.Header.Attempt)
	assert.Equal(t, gametest.CodeAssertion, a.Header.Code)
	assert.Contains(t, a.Header.Error, "expected no gold")
	assert.Equal(t, insts[0].Bounds(), a.Box)
	assert.Equal(t, "gold", a.BlockAt(insts[0].Bounds().Min.Add(geom.V(1, 1, 1))))
}
