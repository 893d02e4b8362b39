package suites

import (
	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/geom"
)

// The voxel world has no block behavior of its own. Suites that need some
// drive it from the test body with one of these rules.
type rule func(h *gametest.Helper)

// simulate applies r at the start of every tick while the instance runs.
func simulate(h *gametest.Helper, r rule) {
	var step func() error
	step = func() error {
		r(h)
		h.RunAfterDelay(1, step)
		return nil
	}
	h.RunAfterDelay(1, step)
}

// leverCircuit lights lamp while lever is on.
func leverCircuit(lever, lamp geom.Vec3i) rule {
	return func(h *gametest.Helper) {
		want := "lamp"
		if h.BlockAt(lever) == "lever_on" {
			want = "lamp_lit"
		}
		if h.BlockAt(lamp) != want {
			_ = h.SetBlock(lamp, want)
		}
	}
}

// gravity moves every sand block inside size down by one when the block
// below it is air.
func gravity(size geom.Vec3i) rule {
	return func(h *gametest.Helper) {
		for y := 1; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				for z := 0; z < size.Z; z++ {
					p := geom.V(x, y, z)
					below := geom.V(x, y-1, z)
					if h.BlockAt(p) == "sand" && h.BlockAt(below) == "air" {
						_ = h.SetBlock(below, "sand")
						_ = h.SetBlock(p, "air")
					}
				}
			}
		}
	}
}

var horizontal = []geom.Vec3i{geom.V(1, 0, 0), geom.V(-1, 0, 0), geom.V(0, 0, 1), geom.V(0, 0, -1)}

// waterSpread floods one block per tick into air cells on layer y that rest
// on a solid block.
func waterSpread(size geom.Vec3i, y int) rule {
	return func(h *gametest.Helper) {
		var next []geom.Vec3i
		for x := 0; x < size.X; x++ {
			for z := 0; z < size.Z; z++ {
				p := geom.V(x, y, z)
				if h.BlockAt(p) != "water" {
					continue
				}
				for _, d := range horizontal {
					n := p.Add(d)
					if n.X < 0 || n.Z < 0 || n.X >= size.X || n.Z >= size.Z {
						continue
					}
					if h.BlockAt(n) == "air" && h.BlockAt(n.Add(geom.V(0, -1, 0))) != "air" {
						next = append(next, n)
					}
				}
			}
		}
		for _, n := range next {
			_ = h.SetBlock(n, "water")
		}
	}
}
