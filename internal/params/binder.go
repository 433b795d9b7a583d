// Package params computes the model-wide parameter table.
//
// Events declare parameters independently, so one name may be declared many
// times. The binding rule is first seen wins: events are scanned
// deterministic first, then stochastic, then continuous, each list in
// insertion order and each event's parameters in declaration order. Later
// declarations of a name are ignored.
package params

import "github.com/vk/cellpop/internal/model"

// Binding is one entry of the parameter table.
type Binding struct {
	Name  string
	Value float64
}

// events lists every parameterized construct in binding order.
func events(m *model.Model) []model.Parameterized {
	var out []model.Parameterized
	for _, e := range m.DeterministicEvents() {
		out = append(out, e)
	}
	for _, e := range m.StochasticEvents() {
		out = append(out, e)
	}
	for _, c := range m.ContinuousChanges() {
		out = append(out, c)
	}
	return out
}

// Declare returns the parameter names of the table, in binding order.
func Declare(m *model.Model) []string {
	var names []string
	seen := make(map[string]bool)
	for _, e := range events(m) {
		for _, p := range e.Params() {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}
	return names
}

// Define returns the bound value of every parameter, in binding order.
func Define(m *model.Model) []Binding {
	var out []Binding
	seen := make(map[string]bool)
	for _, e := range events(m) {
		for _, p := range e.Params() {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, Binding{Name: p.Name, Value: p.Value})
		}
	}
	return out
}

// Table is a name lookup over the bound values.
type Table struct {
	bindings []Binding
	index    map[string]int
}

// Bind builds the lookup table of m.
func Bind(m *model.Model) *Table {
	t := &Table{bindings: Define(m), index: make(map[string]int)}
	for i, b := range t.bindings {
		t.index[b.Name] = i
	}
	return t
}

// Lookup returns the bound value of name.
func (t *Table) Lookup(name string) (float64, bool) {
	i, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.bindings[i].Value, true
}

// Bindings returns the table entries in binding order.
func (t *Table) Bindings() []Binding { return t.bindings }

// Shadowed lists the declarations ignored by the binding rule, as
// "event.name" strings, so callers can report them.
func Shadowed(m *model.Model) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range events(m) {
		for _, p := range e.Params() {
			if seen[p.Name] {
				out = append(out, e.EventName()+"."+p.Name)
				continue
			}
			seen[p.Name] = true
		}
	}
	return out
}
