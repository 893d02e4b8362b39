package gametest

import (
	"context"
	"time"
)

// Ticker is the per-tick driver. It visits registered instances in
// registration order once per step.
type Ticker struct {
	tests []*Instance
	now   int64
	gen   uint64
}

func NewTicker() *Ticker { return &Ticker{} }

func (t *Ticker) Add(inst *Instance) { t.tests = append(t.tests, inst) }

// Remove drops the given instances. Instances not yet visited in the current
// step are skipped.
func (t *Ticker) Remove(insts ...*Instance) {
	drop := make(map[*Instance]bool, len(insts))
	for _, inst := range insts {
		drop[inst] = true
	}
	kept := t.tests[:0]
	for _, inst := range t.tests {
		if !drop[inst] {
			kept = append(kept, inst)
		}
	}
	clear(t.tests[len(kept):])
	t.tests = kept
	t.gen++
}

func (t *Ticker) Len() int   { return len(t.tests) }
func (t *Ticker) Now() int64 { return t.now }

// StepOnce advances every registered instance by one tick and drops those
// that are done. Instances added during the step are first visited on the
// next step.
func (t *Ticker) StepOnce() {
	t.now++
	snapshot := append([]*Instance(nil), t.tests...)
	gen := t.gen
	for _, inst := range snapshot {
		if t.gen != gen && !t.contains(inst) {
			continue
		}
		inst.advance()
	}
	kept := t.tests[:0]
	for _, inst := range t.tests {
		if !inst.Done() {
			kept = append(kept, inst)
		}
	}
	clear(t.tests[len(kept):])
	t.tests = kept
}

func (t *Ticker) contains(inst *Instance) bool {
	for _, x := range t.tests {
		if x == inst {
			return true
		}
	}
	return false
}

// RunUntil steps once per interval until done reports true or ctx ends.
func (t *Ticker) RunUntil(ctx context.Context, interval time.Duration, done func() bool) error {
	if done() {
		return nil
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.StepOnce()
			if done() {
				return nil
			}
		}
	}
}
