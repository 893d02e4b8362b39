package gametest

import (
	"fmt"
	"strings"
)

// Tracker aggregates the outcomes of a set of instances. Counts are derived
// from instance state on every call.
type Tracker struct {
	tests     []*Instance
	listeners []Listener
}

func NewTracker(tests ...*Instance) *Tracker {
	t := &Tracker{}
	for _, inst := range tests {
		t.Add(inst)
	}
	return t
}

// Add tracks inst and forwards its pass/fail events to the tracker's listeners.
func (t *Tracker) Add(inst *Instance) {
	t.tests = append(t.tests, inst)
	inst.AddListener(trackerForwarder{t: t})
}

func (t *Tracker) AddListener(l Listener) { t.listeners = append(t.listeners, l) }

type trackerForwarder struct {
	NopListener
	t *Tracker
}

func (f trackerForwarder) OnPassed(inst *Instance, r *Runner) {
	for _, l := range f.t.listeners {
		l.OnPassed(inst, r)
	}
}

func (f trackerForwarder) OnFailed(inst *Instance, r *Runner) {
	for _, l := range f.t.listeners {
		l.OnFailed(inst, r)
	}
}

func (t *Tracker) Tests() []*Instance { return append([]*Instance(nil), t.tests...) }

func (t *Tracker) count(pred func(*Instance) bool) int {
	n := 0
	for _, inst := range t.tests {
		if pred(inst) {
			n++
		}
	}
	return n
}

func (t *Tracker) TotalCount() int { return len(t.tests) }
func (t *Tracker) DoneCount() int  { return t.count((*Instance).Done) }
func (t *Tracker) PassedCount() int {
	return t.count((*Instance).Passed)
}

func (t *Tracker) FailedRequiredCount() int {
	return t.count(func(i *Instance) bool { return i.Failed() && i.Required() })
}

func (t *Tracker) FailedOptionalCount() int {
	return t.count(func(i *Instance) bool { return i.Failed() && !i.Required() })
}

func (t *Tracker) HasFailedRequired() bool { return t.FailedRequiredCount() > 0 }
func (t *Tracker) HasFailedOptional() bool { return t.FailedOptionalCount() > 0 }

// AllRequiredPassed reports whether every required instance has passed.
func (t *Tracker) AllRequiredPassed() bool {
	return t.count(func(i *Instance) bool { return i.Required() && !i.Passed() }) == 0
}

// IsDone reports whether every tracked instance is terminal.
func (t *Tracker) IsDone() bool { return t.DoneCount() == t.TotalCount() }

// ProgressBar renders one character per tracked instance:
// ' ' not started, '_' running, '+' passed, 'x' failed optional, 'X' failed required.
func (t *Tracker) ProgressBar() string {
	var b strings.Builder
	b.Grow(len(t.tests) + 2)
	b.WriteByte('[')
	for _, inst := range t.tests {
		switch inst.State() {
		case NotStarted:
			b.WriteByte(' ')
		case Running:
			b.WriteByte('_')
		case Passed:
			b.WriteByte('+')
		case Failed:
			if inst.Required() {
				b.WriteByte('X')
			} else {
				b.WriteByte('x')
			}
		}
	}
	b.WriteByte(']')
	return b.String()
}

func (t *Tracker) String() string { return t.Summary() }

func (t *Tracker) Summary() string {
	return fmt.Sprintf("%s %d/%d done, %d required failed, %d optional failed",
		t.ProgressBar(), t.DoneCount(), t.TotalCount(), t.FailedRequiredCount(), t.FailedOptionalCount())
}
