package gametest

import (
	"errors"
	"fmt"
	"slices"
)

const noDelay = -1

type step struct {
	expectedDelay int64
	run           func(now int64) error
}

// Sequence is an ordered queue of deferred assertion steps owned by one
// instance. Steps run strictly in enqueue order; a step whose condition is not
// met yet stays at the head and is retried on the next tick.
type Sequence struct {
	parent   *Instance
	steps    []step
	lastTick int64
}

func newSequence(parent *Instance) *Sequence {
	return &Sequence{parent: parent, lastTick: parent.Tick()}
}

// WaitUntil retries fn every tick until it returns nil.
func (s *Sequence) WaitUntil(fn func() error) *Sequence {
	return s.add(noDelay, waitUntil(fn))
}

// WaitUntilIn is WaitUntil, but fn must first succeed exactly expectedDelay
// ticks after the previous step.
func (s *Sequence) WaitUntilIn(expectedDelay int64, fn func() error) *Sequence {
	return s.add(expectedDelay, waitUntil(fn))
}

// Idle waits delay ticks.
func (s *Sequence) Idle(delay int64) *Sequence {
	return s.ExecuteAfter(delay, func() error { return nil })
}

// ExecuteAfter guards fn until delay ticks have passed since the previous
// step, then runs it once. An error from fn fails the test.
func (s *Sequence) ExecuteAfter(delay int64, fn func() error) *Sequence {
	return s.add(noDelay, func(now int64) error {
		if now < s.lastTick+delay {
			return &waitingError{cause: errNotYet}
		}
		return fn()
	})
}

// ExecuteFor runs fn every tick until delay ticks have passed since the
// previous step. An error from fn at any of those ticks fails the test.
func (s *Sequence) ExecuteFor(delay int64, fn func() error) *Sequence {
	return s.add(noDelay, func(now int64) error {
		if now < s.lastTick+delay {
			if err := fn(); err != nil {
				return err
			}
			return &waitingError{cause: errNotYet}
		}
		return nil
	})
}

// Succeed passes the test once every earlier step has completed.
func (s *Sequence) Succeed() {
	s.add(noDelay, func(int64) error {
		s.parent.Succeed()
		return nil
	})
}

// Fail fails the test with the error returned by cause once every earlier
// step has completed.
func (s *Sequence) Fail(cause func() error) {
	s.add(noDelay, func(now int64) error {
		err := cause()
		if err == nil {
			err = &AssertionError{Msg: "sequence failed", Tick: now}
		}
		s.parent.Fail(err)
		return nil
	})
}

// Trigger returns a condition that records the tick at which this step ran.
func (s *Sequence) Trigger() *Condition {
	c := &Condition{parent: s.parent}
	s.add(noDelay, func(now int64) error { return c.trigger(now) })
	return c
}

// Pending is the number of steps not yet completed.
func (s *Sequence) Pending() int { return len(s.steps) }

func (s *Sequence) add(expectedDelay int64, run func(now int64) error) *Sequence {
	s.steps = append(s.steps, step{expectedDelay: expectedDelay, run: run})
	return s
}

func waitUntil(fn func() error) func(int64) error {
	return func(int64) error {
		if err := fn(); err != nil {
			return &waitingError{cause: err}
		}
		return nil
	}
}

// tick runs as many steps as are ready at now. It returns the cause of the
// step still waiting, if any.
func (s *Sequence) tick(now int64) error {
	for len(s.steps) > 0 && s.parent.Running() {
		st := s.steps[0]
		s.steps = s.steps[1:]

		err := st.run(now)
		if err != nil {
			var w *waitingError
			if errors.As(err, &w) {
				s.steps = slices.Insert(s.steps, 0, st)
				return w.cause
			}
			s.parent.Fail(stampTick(err, now))
			return nil
		}

		prev := s.lastTick
		s.lastTick = now
		if st.expectedDelay != noDelay && now-prev != st.expectedDelay {
			s.parent.Fail(&TimingError{ExpectedTick: prev + st.expectedDelay, ActualTick: now})
			return nil
		}
	}
	return nil
}

func stampTick(err error, now int64) error {
	var ae *AssertionError
	if errors.As(err, &ae) && ae.Tick == 0 && err == error(ae) {
		cp := *ae
		cp.Tick = now
		return &cp
	}
	return err
}

// Condition is a one-shot marker set by Sequence.Trigger.
type Condition struct {
	parent    *Instance
	triggered bool
	tick      int64
}

func (c *Condition) trigger(now int64) error {
	if c.triggered {
		return &SetupError{Msg: "condition already triggered"}
	}
	c.triggered = true
	c.tick = now
	return nil
}

func (c *Condition) Triggered() (tick int64, ok bool) { return c.tick, c.triggered }

// AssertTriggeredThisTick fails unless the condition fired on the owning
// instance's current tick.
func (c *Condition) AssertTriggeredThisTick() error {
	now := c.parent.Tick()
	switch {
	case !c.triggered:
		return &AssertionError{Msg: "condition not triggered", Tick: now}
	case c.tick != now:
		return &AssertionError{Msg: fmt.Sprintf("condition triggered at %d", c.tick), Tick: now}
	}
	return nil
}
