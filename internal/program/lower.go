// Package program lowers a validated model into an executable sim.Program.
//
// Expressions are linked into closures with parameters folded to the values
// chosen by the binder, so a lowered program runs the same dynamics as the
// code generated for the model.
package program

import (
	"fmt"

	"github.com/vk/cellpop/internal/expr"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/params"
	"github.com/vk/cellpop/pkg/sim"
)

// Lower builds the simulation program of m.
func Lower(m *model.Model) (*sim.Program, error) {
	table := params.Bind(m)
	lookup := table.Lookup
	prog := &sim.Program{Name: m.Name}

	for _, a := range m.Agents() {
		at := sim.AgentType{
			Name:       a.Name,
			Unique:     a.Unique,
			Properties: append([]string(nil), a.Properties...),
			Count:      a.InitialCount(),
		}
		init, err := lowerInitial(a, lookup)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		at.Init = init
		prog.Agents = append(prog.Agents, at)
	}

	for _, e := range m.DeterministicEvents() {
		trigger, err := expr.LinkBool(e.Trigger, lookup)
		if err != nil {
			return nil, fmt.Errorf("deterministic event %s: %w", e.Name, err)
		}
		realize, err := lowerRealization(e.Realization, lookup)
		if err != nil {
			return nil, fmt.Errorf("deterministic event %s: %w", e.Name, err)
		}
		prog.Deterministic = append(prog.Deterministic, sim.DeterministicRule{
			Name:    e.Name,
			Agent:   e.Agent.Index,
			Kind:    kind(e.Kind),
			Trigger: func(s *sim.Scope) bool { return trigger(s) },
			Realize: realize,
		})
	}

	for _, e := range m.StochasticEvents() {
		propensity, err := expr.LinkNumber(e.Propensity, lookup)
		if err != nil {
			return nil, fmt.Errorf("stochastic event %s: %w", e.Name, err)
		}
		realize, err := lowerRealization(e.Realization, lookup)
		if err != nil {
			return nil, fmt.Errorf("stochastic event %s: %w", e.Name, err)
		}
		prog.Stochastic = append(prog.Stochastic, sim.StochasticRule{
			Name:       e.Name,
			Agent:      e.Agent.Index,
			Kind:       kind(e.Kind),
			Propensity: func(s *sim.Scope) float64 { return propensity(s) },
			Realize:    realize,
		})
	}

	for _, c := range m.ContinuousChanges() {
		rate, err := expr.LinkNumber(c.Rate, lookup)
		if err != nil {
			return nil, fmt.Errorf("continuous change %s: %w", c.Name, err)
		}
		prog.Continuous = append(prog.Continuous, sim.RateRule{
			Name:     c.Name,
			Agent:    c.Agent.Index,
			Property: c.Property,
			Source:   c.Source.Index,
			Rate:     func(s *sim.Scope) float64 { return rate(s) },
		})
	}

	if t := m.TerminalCondition(); t != nil {
		cond, err := expr.LinkBool(t, lookup)
		if err != nil {
			return nil, fmt.Errorf("terminal condition: %w", err)
		}
		prog.Terminal = func(s *sim.Scope) bool { return cond(s) }
	}
	return prog, nil
}

func kind(k model.Kind) sim.Kind {
	switch k {
	case model.Creation:
		return sim.Creation
	case model.Destruction:
		return sim.Destruction
	default:
		return sim.Mutation
	}
}

func lowerInitial(a *model.Agent, lookup expr.ParamFunc) (func(*sim.Scope), error) {
	type step struct {
		prop  int
		value func(expr.Frame) float64
	}
	var steps []step
	for _, p := range a.InitOrder {
		e := a.Initial[p]
		if e == nil {
			continue
		}
		fn, err := expr.LinkNumber(e, lookup)
		if err != nil {
			return nil, fmt.Errorf("initial value of %s: %w", a.Properties[p], err)
		}
		steps = append(steps, step{prop: p, value: fn})
	}
	if len(steps) == 0 {
		return nil, nil
	}
	return func(s *sim.Scope) {
		for _, st := range steps {
			s.Set(st.prop, st.value(s))
		}
	}, nil
}

func lowerRealization(stmts []*expr.Assignment, lookup expr.ParamFunc) (func(*sim.Scope), error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	run, err := expr.LinkAssignments(stmts, lookup, assign)
	if err != nil {
		return nil, err
	}
	return func(s *sim.Scope) { run(s) }, nil
}

func assign(f expr.Frame, target expr.Symbol, v float64) {
	s := f.(*sim.Scope)
	switch target.Kind {
	case expr.NewProperty:
		s.SetNew(target.Property, v)
	case expr.UniqueProperty:
		s.SetUnique(target.Agent, target.Property, v)
	default:
		s.Set(target.Property, v)
	}
}
