package geom

import "fmt"

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func V(x, y, z int) Vec3i { return Vec3i{X: x, Y: y, Z: z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// DistSq is the squared euclidean distance between two block positions.
func (v Vec3i) DistSq(o Vec3i) int {
	d := v.Sub(o)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

func (v Vec3i) String() string { return fmt.Sprintf("[%d %d %d]", v.X, v.Y, v.Z) }

// Box is an axis-aligned block box with inclusive bounds.
type Box struct {
	Min Vec3i `json:"min"`
	Max Vec3i `json:"max"`
}

// PointBox returns the single-block box at p.
func PointBox(p Vec3i) Box { return Box{Min: p, Max: p} }

func (b Box) SizeX() int { return b.Max.X - b.Min.X + 1 }
func (b Box) SizeY() int { return b.Max.Y - b.Min.Y + 1 }
func (b Box) SizeZ() int { return b.Max.Z - b.Min.Z + 1 }

func (b Box) Size() Vec3i { return Vec3i{X: b.SizeX(), Y: b.SizeY(), Z: b.SizeZ()} }

func (b Box) Contains(p Vec3i) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Union returns the smallest box enclosing both b and o.
func (b Box) Union(o Box) Box {
	return Box{
		Min: Vec3i{X: min(b.Min.X, o.Min.X), Y: min(b.Min.Y, o.Min.Y), Z: min(b.Min.Z, o.Min.Z)},
		Max: Vec3i{X: max(b.Max.X, o.Max.X), Y: max(b.Max.Y, o.Max.Y), Z: max(b.Max.Z, o.Max.Z)},
	}
}

// Grow expands the box by dx/dy/dz blocks on every side of the respective axis.
func (b Box) Grow(dx, dy, dz int) Box {
	return Box{
		Min: Vec3i{X: b.Min.X - dx, Y: b.Min.Y - dy, Z: b.Min.Z - dz},
		Max: Vec3i{X: b.Max.X + dx, Y: b.Max.Y + dy, Z: b.Max.Z + dz},
	}
}

// Each visits every position of the box in x, z, y order.
func (b Box) Each(fn func(p Vec3i)) {
	for y := b.Min.Y; y <= b.Max.Y; y++ {
		for z := b.Min.Z; z <= b.Max.Z; z++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				fn(Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
}

func (b Box) String() string { return fmt.Sprintf("%s..%s", b.Min, b.Max) }
