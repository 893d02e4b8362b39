// Package suites holds the built-in game tests and the structures their
// arenas are built from.
package suites

import (
	"embed"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/geom"
	"voxeltest.ai/internal/sim/structures"
)

//go:embed structures/*.json
var structureFS embed.FS

// Structures loads the embedded structure catalog.
func Structures() (*structures.Catalog, error) {
	return structures.LoadFS(structureFS, "structures")
}

var (
	lever = geom.V(0, 1, 1)
	lamp  = geom.V(4, 1, 1)

	padSize   = geom.V(5, 3, 5)
	sandSize  = geom.V(3, 5, 3)
	basinSize = geom.V(5, 2, 5)
)

func Definitions() []gametest.Definition {
	return []gametest.Definition{
		{Name: "blocks.place_and_read", Batch: "blocks", Structure: "pad", Fn: placeAndRead},
		{Name: "blocks.floor_intact", Batch: "blocks", Structure: "pad", Fn: floorIntact},
		{Name: "blocks.settled_arena", Batch: "blocks", Structure: "pad", SetupTicks: 5, Fn: settledArena},
		{Name: "blocks.rotated_circuit", Batch: "blocks", Structure: "lamp_circuit", Rotation: geom.Rot90, Fn: rotatedCircuit},

		{Name: "redstone.lever_lights_lamp", Batch: "redstone", Structure: "lamp_circuit", Fn: leverLightsLamp},
		{Name: "redstone.lamp_stays_off", Batch: "redstone", Structure: "lamp_circuit", Fn: lampStaysOff},
		{Name: "redstone.lever_trigger", Batch: "redstone", Structure: "lamp_circuit", Fn: leverTrigger},
		{Name: "redstone.lever_repeatable", Batch: "redstone", Structure: "lamp_circuit", MaxAttempts: 3, RequiredSuccesses: 2, Fn: leverLightsLamp},

		{Name: "physics.sand_falls", Batch: "physics", Structure: "sand_column", TimeoutTicks: 20, Fn: sandFalls},
		{Name: "physics.sand_fall_timing", Batch: "physics", Structure: "sand_column", Fn: sandFallTiming},
		{Name: "physics.water_spreads", Batch: "physics", Structure: "basin", TimeoutTicks: 20, Fn: waterSpreads},
		{Name: "physics.water_contained", Batch: "physics", Structure: "basin", Optional: true, Fn: waterContained},
		{Name: "physics.water_full_basin", Batch: "physics", Structure: "basin", ManualOnly: true, TimeoutTicks: 200, Fn: waterFullBasin},
	}
}

// Register adds the built-in tests and their batch hooks to reg.
func Register(reg *gametest.Registry, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if err := reg.Register(Definitions()...); err != nil {
		return err
	}
	for _, batch := range []string{"blocks", "redstone", "physics"} {
		reg.RegisterBatchHooks(batch, gametest.BatchHooks{
			Before: func(gametest.World) { logger.Debug("suite setup", "batch", batch) },
			After:  func(gametest.World) { logger.Debug("suite teardown", "batch", batch) },
		})
	}
	return nil
}

func assertAll(checks ...func() error) func() error {
	return func() error {
		var errs []error
		for _, c := range checks {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func blockIs(h *gametest.Helper, p geom.Vec3i, want string) func() error {
	return func() error { return h.AssertBlock(p, want) }
}

func floorOf(h *gametest.Helper, size geom.Vec3i, want string) func() error {
	return func() error {
		for x := 0; x < size.X; x++ {
			for z := 0; z < size.Z; z++ {
				if err := h.AssertBlock(geom.V(x, 0, z), want); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func placeAndRead(h *gametest.Helper) {
	p := geom.V(1, 1, 1)
	if err := h.SetBlock(p, "planks"); err != nil {
		h.Fail(err)
		return
	}
	h.SucceedWhen(blockIs(h, p, "planks"))
}

func floorIntact(h *gametest.Helper) {
	h.SucceedIf(assertAll(floorOf(h, padSize, "stone"), blockIs(h, geom.V(2, 1, 2), "air")))
}

func settledArena(h *gametest.Helper) {
	if h.Tick() != 5 {
		h.Failf("body started at tick %d", h.Tick())
		return
	}
	h.SucceedIf(floorOf(h, padSize, "stone"))
}

func rotatedCircuit(h *gametest.Helper) {
	h.SucceedIf(assertAll(
		blockIs(h, lever, "lever"),
		blockIs(h, lamp, "lamp"),
		blockIs(h, geom.V(2, 0, 1), "redstone_block"),
		func() error {
			if b := h.Instance().Bounds(); b.SizeX() != 3 || b.SizeZ() != 5 {
				return gametest.Assertf("footprint %v not rotated", b.Size())
			}
			return nil
		},
	))
}

func leverLightsLamp(h *gametest.Helper) {
	simulate(h, leverCircuit(lever, lamp))
	h.StartSequence().
		ExecuteAfter(2, func() error { return h.SetBlock(lever, "lever_on") }).
		WaitUntilIn(1, blockIs(h, lamp, "lamp_lit")).
		Succeed()
}

func lampStaysOff(h *gametest.Helper) {
	simulate(h, leverCircuit(lever, lamp))
	h.StartSequence().
		ExecuteFor(5, blockIs(h, lamp, "lamp")).
		Succeed()
}

func leverTrigger(h *gametest.Helper) {
	simulate(h, leverCircuit(lever, lamp))
	s := h.StartSequence().ExecuteAfter(1, func() error { return h.SetBlock(lever, "lever_on") })
	flipped := s.Trigger()
	s.WaitUntil(flipped.AssertTriggeredThisTick).
		WaitUntil(blockIs(h, lamp, "lamp_lit")).
		Succeed()
}

func sandFalls(h *gametest.Helper) {
	simulate(h, gravity(sandSize))
	h.SucceedWhen(assertAll(blockIs(h, geom.V(1, 1, 1), "sand"), blockIs(h, geom.V(1, 4, 1), "air")))
}

func sandFallTiming(h *gametest.Helper) {
	simulate(h, gravity(sandSize))
	h.StartSequence().
		WaitUntilIn(3, blockIs(h, geom.V(1, 1, 1), "sand")).
		Succeed()
}

func waterSpreads(h *gametest.Helper) {
	simulate(h, waterSpread(basinSize, 1))
	h.SucceedWhen(assertAll(blockIs(h, geom.V(0, 1, 0), "water"), blockIs(h, geom.V(4, 1, 4), "water")))
}

func waterContained(h *gametest.Helper) {
	simulate(h, waterSpread(basinSize, 1))
	outside := []geom.Vec3i{geom.V(-1, 1, 2), geom.V(5, 1, 2), geom.V(2, 1, -1), geom.V(2, 1, 5)}
	h.StartSequence().
		ExecuteFor(8, func() error {
			for _, p := range outside {
				if b := h.World().BlockAt(h.Abs(p)); b == "water" {
					return gametest.Assertf("water escaped to %v", p)
				}
			}
			return nil
		}).
		Succeed()
}

func waterFullBasin(h *gametest.Helper) {
	simulate(h, waterSpread(basinSize, 1))
	h.SucceedWhen(func() error {
		for x := 0; x < basinSize.X; x++ {
			for z := 0; z < basinSize.Z; z++ {
				if err := h.AssertBlock(geom.V(x, 1, z), "water"); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
