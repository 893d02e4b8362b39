package gametest

import (
	"time"

	"voxeltest.ai/internal/sim/geom"
)

// Listener observes test lifecycle events. All callbacks are delivered
// synchronously on the tick loop.
type Listener interface {
	OnStructureLoaded(inst *Instance)
	OnPassed(inst *Instance, r *Runner)
	OnFailed(inst *Instance, r *Runner)
	OnAddedForRerun(prev, next *Instance, r *Runner)
}

// NopListener can be embedded to implement only some callbacks.
type NopListener struct{}

func (NopListener) OnStructureLoaded(*Instance)                   {}
func (NopListener) OnPassed(*Instance, *Runner)                   {}
func (NopListener) OnFailed(*Instance, *Runner)                   {}
func (NopListener) OnAddedForRerun(*Instance, *Instance, *Runner) {}

type EventKind string

const (
	EventStructureLoaded EventKind = "STRUCTURE_LOADED"
	EventPassed          EventKind = "PASSED"
	EventFailed          EventKind = "FAILED"
	EventRerun           EventKind = "RERUN"
)

// Event is the flat, serializable form of a listener callback.
type Event struct {
	Kind     EventKind  `json:"kind"`
	Test     string     `json:"test"`
	Batch    string     `json:"batch"`
	Attempt  int        `json:"attempt"`
	Required bool       `json:"required"`
	Tick     int64      `json:"tick"`
	Origin   geom.Vec3i `json:"origin"`
	Code     string     `json:"code,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

func NewEvent(kind EventKind, inst *Instance) Event {
	ev := Event{
		Kind:     kind,
		Test:     inst.Name(),
		Batch:    inst.Definition().Batch,
		Attempt:  inst.Attempt(),
		Required: inst.Required(),
		Tick:     inst.Tick(),
		Origin:   inst.Origin(),
		At:       time.Now().UTC(),
	}
	if err := inst.Err(); err != nil {
		ev.Code = Code(err)
		ev.Error = err.Error()
	}
	return ev
}

// EventListener adapts a sink of Events into a Listener. Rerun events carry
// the new instance.
func EventListener(sink func(Event)) Listener { return eventListener(sink) }

type eventListener func(Event)

func (f eventListener) OnStructureLoaded(inst *Instance) { f(NewEvent(EventStructureLoaded, inst)) }
func (f eventListener) OnPassed(inst *Instance, _ *Runner) {
	f(NewEvent(EventPassed, inst))
}
func (f eventListener) OnFailed(inst *Instance, _ *Runner) {
	f(NewEvent(EventFailed, inst))
}
func (f eventListener) OnAddedForRerun(_, next *Instance, _ *Runner) {
	f(NewEvent(EventRerun, next))
}
