package gametest

import (
	"fmt"
	"sort"
	"strings"

	"voxeltest.ai/internal/sim/geom"
)

const (
	DefaultBatch        = "default"
	DefaultTimeoutTicks = 100
)

// Definition is a registered test function and its declared run parameters.
type Definition struct {
	// Name is the fully-qualified test name, e.g. "blocks.place_stone".
	Name string
	// Class groups related tests; derived from Name when empty.
	Class     string
	Batch     string
	Structure string
	Rotation  geom.Rotation

	TimeoutTicks int
	SetupTicks   int

	// Optional tests never halt a run when they fail.
	Optional bool

	RequiredSuccesses int
	MaxAttempts       int

	// ManualOnly tests are skipped by the "all" selector.
	ManualOnly bool

	Fn func(h *Helper)
}

func (d Definition) Required() bool { return !d.Optional }

// Flaky reports whether the definition is judged over several attempts.
func (d Definition) Flaky() bool { return d.MaxAttempts > 1 }

func (d Definition) normalize() Definition {
	d.Name = strings.TrimSpace(d.Name)
	if d.Class == "" {
		if i := strings.LastIndex(d.Name, "."); i > 0 {
			d.Class = d.Name[:i]
		} else {
			d.Class = d.Name
		}
	}
	if d.Batch == "" {
		d.Batch = DefaultBatch
	}
	if d.TimeoutTicks <= 0 {
		d.TimeoutTicks = DefaultTimeoutTicks
	}
	if d.SetupTicks < 0 {
		d.SetupTicks = 0
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 1
	}
	if d.RequiredSuccesses <= 0 {
		d.RequiredSuccesses = 1
	}
	return d
}

func (d Definition) validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("test name must not be empty")
	case d.Structure == "":
		return fmt.Errorf("test %s: structure must not be empty", d.Name)
	case d.Fn == nil:
		return fmt.Errorf("test %s: missing test function", d.Name)
	case d.RequiredSuccesses > d.MaxAttempts:
		return fmt.Errorf("test %s: required_successes %d exceeds max_attempts %d", d.Name, d.RequiredSuccesses, d.MaxAttempts)
	}
	return nil
}

// BatchHooks run around every activation of a batch with the given name.
type BatchHooks struct {
	Before func(w World)
	After  func(w World)
}

// Registry is an explicit table of test definitions built at startup.
type Registry struct {
	byName map[string]Definition
	order  []string
	hooks  map[string]BatchHooks
}

func NewRegistry() *Registry {
	return &Registry{
		byName: map[string]Definition{},
		hooks:  map[string]BatchHooks{},
	}
}

func (r *Registry) Register(defs ...Definition) error {
	for _, d := range defs {
		d = d.normalize()
		if err := d.validate(); err != nil {
			return err
		}
		if _, dup := r.byName[d.Name]; dup {
			return fmt.Errorf("%s: %w", d.Name, ErrDuplicateTest)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(defs ...Definition) {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
}

func (r *Registry) RegisterBatchHooks(batch string, hooks BatchHooks) {
	r.hooks[batch] = hooks
}

// Hooks returns the hooks for a batch name; missing hooks are no-ops.
func (r *Registry) Hooks(batch string) BatchHooks {
	if r == nil {
		return BatchHooks{}
	}
	return r.hooks[batch]
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns every definition sorted by name.
func (r *Registry) All() []Definition {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) ByClass(class string) []Definition {
	var out []Definition
	for _, d := range r.All() {
		if d.Class == class {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Classes() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.byName {
		if !seen[d.Class] {
			seen[d.Class] = true
			out = append(out, d.Class)
		}
	}
	sort.Strings(out)
	return out
}
