// Package selector builds the candidate instances of a run from a source of
// test definitions and a source of arenas already present in the world.
package selector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/geom"
	"voxeltest.ai/internal/sim/structures"
)

var ErrNothingSelected = errors.New("no tests selected")

// Definitions lazily yields test definitions.
type Definitions func(ctx context.Context) (iter.Seq[gametest.Definition], error)

// Locations lazily yields arenas already placed in the world.
type Locations func() iter.Seq[structures.Placement]

// FailedStore reports the names of tests whose latest recorded outcome was a
// failure.
type FailedStore interface {
	FailedTests(ctx context.Context) ([]string, error)
}

// ArenaIndex is the world capability location strategies need.
type ArenaIndex interface {
	Placements() []structures.Placement
}

func NoDefinitions() Definitions {
	return func(context.Context) (iter.Seq[gametest.Definition], error) {
		return func(func(gametest.Definition) bool) {}, nil
	}
}

// ByName selects the named tests in the given order.
func ByName(reg *gametest.Registry, names ...string) Definitions {
	return func(context.Context) (iter.Seq[gametest.Definition], error) {
		out := make([]gametest.Definition, 0, len(names))
		for _, n := range names {
			d, ok := reg.Lookup(n)
			if !ok {
				return nil, fmt.Errorf("%s: %w", n, gametest.ErrUnknownTest)
			}
			out = append(out, d)
		}
		return slices.Values(out), nil
	}
}

// ByClass selects every test declared in class.
func ByClass(reg *gametest.Registry, class string) Definitions {
	return func(context.Context) (iter.Seq[gametest.Definition], error) {
		defs := reg.ByClass(class)
		if len(defs) == 0 {
			return nil, fmt.Errorf("class %s: %w", class, gametest.ErrUnknownTest)
		}
		return slices.Values(defs), nil
	}
}

// All selects every registered test except manual-only ones.
func All(reg *gametest.Registry) Definitions {
	return func(context.Context) (iter.Seq[gametest.Definition], error) {
		all := reg.All()
		return func(yield func(gametest.Definition) bool) {
			for _, d := range all {
				if d.ManualOnly {
					continue
				}
				if !yield(d) {
					return
				}
			}
		}, nil
	}
}

// Failed selects the tests that failed in the most recent recorded run.
// Names no longer registered are skipped.
func Failed(reg *gametest.Registry, store FailedStore) Definitions {
	return func(ctx context.Context) (iter.Seq[gametest.Definition], error) {
		names, err := store.FailedTests(ctx)
		if err != nil {
			return nil, fmt.Errorf("load failed tests: %w", err)
		}
		return func(yield func(gametest.Definition) bool) {
			for _, n := range names {
				d, ok := reg.Lookup(n)
				if !ok {
					continue
				}
				if !yield(d) {
					return
				}
			}
		}, nil
	}
}

func NoLocations() Locations {
	return func() iter.Seq[structures.Placement] {
		return func(func(structures.Placement) bool) {}
	}
}

// Within yields every arena whose origin lies within radius of pos, nearest
// first.
func Within(idx ArenaIndex, pos geom.Vec3i, radius int) Locations {
	return func() iter.Seq[structures.Placement] {
		return slices.Values(within(idx, pos, radius))
	}
}

// Nearest yields the single closest arena within radius of pos, if any.
func Nearest(idx ArenaIndex, pos geom.Vec3i, radius int) Locations {
	return func() iter.Seq[structures.Placement] {
		found := within(idx, pos, radius)
		return slices.Values(found[:min(1, len(found))])
	}
}

func within(idx ArenaIndex, pos geom.Vec3i, radius int) []structures.Placement {
	r2 := radius * radius
	var out []structures.Placement
	for _, p := range idx.Placements() {
		if p.Origin.DistSq(pos) <= r2 {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Origin.DistSq(pos) < out[j].Origin.DistSq(pos)
	})
	return out
}

// Ray is a viewing ray in world space.
type Ray struct {
	From    [3]float64
	Dir     [3]float64
	MaxDist float64
}

const rayStep = 0.25

// LookingAt yields the first arena the ray enters.
func LookingAt(idx ArenaIndex, ray Ray) Locations {
	return func() iter.Seq[structures.Placement] {
		return func(yield func(structures.Placement) bool) {
			if p, ok := firstHit(idx.Placements(), ray); ok {
				yield(p)
			}
		}
	}
}

func firstHit(placements []structures.Placement, ray Ray) (structures.Placement, bool) {
	l := math.Sqrt(ray.Dir[0]*ray.Dir[0] + ray.Dir[1]*ray.Dir[1] + ray.Dir[2]*ray.Dir[2])
	if l == 0 || len(placements) == 0 {
		return structures.Placement{}, false
	}
	for d := 0.0; d <= ray.MaxDist; d += rayStep {
		cell := geom.V(
			int(math.Floor(ray.From[0]+ray.Dir[0]/l*d)),
			int(math.Floor(ray.From[1]+ray.Dir[1]/l*d)),
			int(math.Floor(ray.From[2]+ray.Dir[2]/l*d)),
		)
		for _, p := range placements {
			if p.Box.Contains(cell) {
				return p, true
			}
		}
	}
	return structures.Placement{}, false
}

// Selector merges a definition source and a location source into instances.
type Selector struct {
	Registry    *gametest.Registry
	Definitions Definitions
	Locations   Locations
}

// Instances builds fresh instances for every selected definition, then
// instances anchored at every selected arena.
func (s Selector) Instances(ctx context.Context) ([]*gametest.Instance, error) {
	var out []*gametest.Instance
	if s.Definitions != nil {
		defs, err := s.Definitions(ctx)
		if err != nil {
			return nil, err
		}
		for d := range defs {
			out = append(out, gametest.NewInstance(d))
		}
	}
	if s.Locations != nil {
		for p := range s.Locations() {
			d, ok := s.Registry.Lookup(p.Test)
			if !ok {
				return nil, fmt.Errorf("arena at %s: %s: %w", p.Origin, p.Test, gametest.ErrUnknownTest)
			}
			out = append(out, gametest.NewInstanceAt(d, p.Origin, p.Rotation))
		}
	}
	if len(out) == 0 {
		return nil, ErrNothingSelected
	}
	return out, nil
}
