package gametest

import (
	"errors"

	"voxeltest.ai/internal/sim/geom"
)

const (
	columnGap = 5
	rowGap    = 6
)

// Spawner places the arenas of a batch into the world.
type Spawner interface {
	OnBatchStart(w World) error
	Spawn(w World, insts []*Instance)
}

// GridSpawner lays arenas out in rows along +X, wrapping to a new row along
// +Z after testsPerRow placements. Rows wrap by count only, so a row of wide
// arenas can extend arbitrarily far along X.
type GridSpawner struct {
	first        geom.Vec3i
	testsPerRow  int
	clearOnBatch bool

	cursor   geom.Vec3i
	rowBox   geom.Box
	rowCount int
	placed   []geom.Box
}

func NewGridSpawner(first geom.Vec3i, testsPerRow int, clearOnBatch bool) *GridSpawner {
	if testsPerRow <= 0 {
		testsPerRow = 1
	}
	g := &GridSpawner{first: first, testsPerRow: testsPerRow, clearOnBatch: clearOnBatch}
	g.reset()
	return g
}

func (g *GridSpawner) reset() {
	g.cursor = g.first
	g.rowBox = geom.PointBox(g.first)
	g.rowCount = 0
	g.placed = nil
}

// OnBatchStart erases every previously placed arena and rewinds the cursor
// when the spawner clears between batches.
func (g *GridSpawner) OnBatchStart(w World) error {
	if !g.clearOnBatch {
		return nil
	}
	var errs []error
	for _, box := range g.placed {
		clearBox := geom.Box{Min: box.Min.Sub(geom.V(0, 1, 0)), Max: box.Max}
		if err := w.ClearRegion(clearBox, box.Min.Y); err != nil {
			errs = append(errs, err)
		}
	}
	g.reset()
	return errors.Join(errs...)
}

// Next allocates the box for a structure of the given size and rotation and
// advances the cursor.
func (g *GridSpawner) Next(size geom.Vec3i, rot geom.Rotation) geom.Box {
	box := geom.PlaceBox(g.cursor, size, rot)
	g.rowBox = g.rowBox.Union(box)
	g.cursor.X += box.SizeX() + columnGap
	g.rowCount++
	if g.rowCount >= g.testsPerRow {
		g.rowCount = 0
		g.cursor.Z += g.rowBox.SizeZ() + rowGap
		g.cursor.X = g.first.X
		g.rowBox = geom.PointBox(g.cursor)
	}
	return box
}

func (g *GridSpawner) Spawn(w World, insts []*Instance) {
	for _, inst := range insts {
		size, err := w.StructureSize(inst.def.Structure)
		if err != nil {
			inst.Fail(&SetupError{Msg: "missing structure " + inst.def.Structure, Cause: err})
			continue
		}
		box := g.Next(size, inst.rotation)
		placed, err := w.PlaceStructure(inst.Name(), inst.def.Structure, box.Min, inst.rotation)
		if err != nil {
			inst.Fail(&SetupError{Msg: "place structure " + inst.def.Structure, Cause: err})
			continue
		}
		g.placed = append(g.placed, placed)
		inst.start(placed)
	}
}

// InPlaceSpawner rebuilds arenas at the origins their instances already carry.
type InPlaceSpawner struct{}

func (InPlaceSpawner) OnBatchStart(World) error { return nil }

func (InPlaceSpawner) Spawn(w World, insts []*Instance) {
	for _, inst := range insts {
		placed, err := w.PlaceStructure(inst.Name(), inst.def.Structure, inst.origin, inst.rotation)
		if err != nil {
			inst.Fail(&SetupError{Msg: "place structure " + inst.def.Structure, Cause: err})
			continue
		}
		inst.start(placed)
	}
}
