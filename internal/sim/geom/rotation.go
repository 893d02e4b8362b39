package geom

// Rotation is a clockwise quarter-turn count around the Y axis in [0,3].
type Rotation int

const (
	Rot0 Rotation = iota
	Rot90
	Rot180
	Rot270
)

// NormalizeRotation converts a rotation value into a stable quarter-turn
// count in [0,3].
//
// It accepts either quarter-turns (0..3) or degrees (multiples of 90).
func NormalizeRotation(r int) Rotation {
	if r%90 == 0 && (r > 3 || r < -3) {
		r = r / 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return Rotation(r)
}

func (r Rotation) Degrees() int { return int(r&3) * 90 }

// RotateXZ rotates an (x,z) offset around the Y axis by rot*90 degrees
// clockwise.
func RotateXZ(x, z int, rot Rotation) (rx, rz int) {
	switch rot & 3 {
	case Rot0:
		return x, z
	case Rot90:
		return z, -x
	case Rot180:
		return -x, -z
	default:
		return -z, x
	}
}

func RotateOffset(off Vec3i, rot Rotation) Vec3i {
	rx, rz := RotateXZ(off.X, off.Z, rot)
	return Vec3i{X: rx, Y: off.Y, Z: rz}
}

// RotateSize returns the footprint extents of a size after rotation.
func RotateSize(size Vec3i, rot Rotation) Vec3i {
	if rot&1 == 1 {
		return Vec3i{X: size.Z, Y: size.Y, Z: size.X}
	}
	return size
}

// PlaceBox is the box a structure of the given size occupies when its
// rotated footprint has its north-west bottom corner at origin.
func PlaceBox(origin, size Vec3i, rot Rotation) Box {
	s := RotateSize(size, rot)
	return Box{
		Min: origin,
		Max: Vec3i{X: origin.X + s.X - 1, Y: origin.Y + s.Y - 1, Z: origin.Z + s.Z - 1},
	}
}

// Transform maps structure-local positions to world positions for a
// structure placed with PlaceBox semantics.
type Transform struct {
	Origin Vec3i
	Size   Vec3i
	Rot    Rotation
}

func (t Transform) Apply(local Vec3i) Vec3i {
	corner := RotateOffset(Vec3i{X: t.Size.X - 1, Y: 0, Z: t.Size.Z - 1}, t.Rot)
	shift := Vec3i{}
	if corner.X < 0 {
		shift.X = -corner.X
	}
	if corner.Z < 0 {
		shift.Z = -corner.Z
	}
	return t.Origin.Add(RotateOffset(local, t.Rot)).Add(shift)
}
