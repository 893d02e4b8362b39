package gametest

import "fmt"

// Batch is a named group of instances that share before/after hooks and are
// run as a unit.
type Batch struct {
	Name      string
	Instances []*Instance
	Before    func(w World)
	After     func(w World)
}

// Partition groups instances into batches by declared batch name, in order of
// first appearance, splitting groups larger than maxSize. Batch names get a
// ":<index>" suffix.
func Partition(insts []*Instance, maxSize int, hooks func(batch string) BatchHooks) []*Batch {
	if maxSize <= 0 {
		maxSize = len(insts)
	}
	var order []string
	groups := map[string][]*Instance{}
	for _, inst := range insts {
		name := inst.Definition().Batch
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], inst)
	}

	var out []*Batch
	for _, name := range order {
		var h BatchHooks
		if hooks != nil {
			h = hooks(name)
		}
		group := groups[name]
		for i := 0; len(group) > 0; i++ {
			n := min(maxSize, len(group))
			out = append(out, &Batch{
				Name:      fmt.Sprintf("%s:%d", name, i),
				Instances: group[:n:n],
				Before:    h.Before,
				After:     h.After,
			})
			group = group[n:]
		}
	}
	return out
}
