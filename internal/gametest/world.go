package gametest

import "voxeltest.ai/internal/sim/geom"

// World is the simulated world the runner places arenas into. Only
// StructureSize, PlaceStructure and ClearRegion are used by the scheduler;
// the block accessors exist for test bodies.
type World interface {
	StructureSize(structure string) (geom.Vec3i, error)
	PlaceStructure(test, structure string, origin geom.Vec3i, rot geom.Rotation) (geom.Box, error)
	ClearRegion(box geom.Box, floorY int) error

	BlockAt(pos geom.Vec3i) string
	SetBlock(pos geom.Vec3i, block string) error
}

// RegionHolder keeps the chunks under an arena resident while its batch runs.
type RegionHolder interface {
	Hold(box geom.Box)
	Release(box geom.Box)
}
