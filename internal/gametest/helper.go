package gametest

import (
	"fmt"

	"voxeltest.ai/internal/sim/geom"
)

// Helper is the API a test body uses. Positions are arena-local and follow
// the instance's rotation.
type Helper struct {
	inst *Instance
}

func (h *Helper) Instance() *Instance { return h.inst }
func (h *Helper) World() World        { return h.inst.world }
func (h *Helper) Tick() int64         { return h.inst.tick }

// Abs maps an arena-local position to a world position.
func (h *Helper) Abs(local geom.Vec3i) geom.Vec3i {
	size := geom.RotateSize(h.inst.box.Size(), h.inst.rotation)
	return geom.Transform{Origin: h.inst.origin, Size: size, Rot: h.inst.rotation}.Apply(local)
}

func (h *Helper) BlockAt(local geom.Vec3i) string {
	return h.inst.world.BlockAt(h.Abs(local))
}

func (h *Helper) SetBlock(local geom.Vec3i, block string) error {
	return h.inst.world.SetBlock(h.Abs(local), block)
}

// AssertBlock returns an assertion error unless the block at local is want.
func (h *Helper) AssertBlock(local geom.Vec3i, want string) error {
	if got := h.BlockAt(local); got != want {
		p := [3]int{local.X, local.Y, local.Z}
		return &AssertionError{Msg: "expected " + want + ", got " + got, Pos: &p, Tick: h.inst.tick}
	}
	return nil
}

func (h *Helper) StartSequence() *Sequence { return h.inst.newSequence() }

func (h *Helper) RunAtTickTime(tick int64, fn func() error) { h.inst.RunAtTickTime(tick, fn) }

// RunAfterDelay schedules fn delay ticks from now.
func (h *Helper) RunAfterDelay(delay int64, fn func() error) {
	h.inst.RunAtTickTime(h.inst.tick+delay, fn)
}

func (h *Helper) Succeed()       { h.inst.Succeed() }
func (h *Helper) Fail(err error) { h.inst.Fail(err) }
func (h *Helper) Failf(format string, args ...any) {
	h.inst.Fail(&AssertionError{Msg: fmt.Sprintf(format, args...), Tick: h.inst.tick})
}

// SucceedWhen passes the test on the first tick cond returns nil.
func (h *Helper) SucceedWhen(cond func() error) {
	if !h.finalCheck() {
		return
	}
	h.inst.newSequence().WaitUntil(cond).Succeed()
}

// SucceedIf checks cond once on the next tick: nil passes the test, an error
// fails it.
func (h *Helper) SucceedIf(cond func() error) {
	if !h.finalCheck() {
		return
	}
	h.inst.newSequence().ExecuteAfter(1, cond).Succeed()
}

// FailIf fails the test on the first tick cond returns nil.
func (h *Helper) FailIf(cond func() error) {
	if !h.finalCheck() {
		return
	}
	h.inst.newSequence().WaitUntil(cond).Fail(func() error {
		return &AssertionError{Msg: "fail condition met", Tick: h.inst.tick}
	})
}

func (h *Helper) finalCheck() bool {
	if h.inst.finalCheck {
		h.inst.Fail(&SetupError{Msg: "test " + h.inst.Name() + " already has a final clause"})
		return false
	}
	h.inst.finalCheck = true
	return true
}
