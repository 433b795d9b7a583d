// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the three kinds of dynamics and their builder calls.
package model

import (
	"fmt"

	"github.com/vk/cellpop/internal/expr"
)

// DeterministicEventSpec is the input of AddDeterministicEvent.
type DeterministicEventSpec struct {
	Name        string
	Agent       string
	Kind        string
	Parameters  Params
	Trigger     string
	Realization []string
}

// DeterministicEvent fires for an instance as soon as its trigger holds.
type DeterministicEvent struct {
	Name        string
	Agent       *Agent
	Kind        Kind
	Parameters  Params
	Trigger     *expr.Expr
	Realization []*expr.Assignment
}

// StochasticEventSpec is the input of AddStochasticEvent.
type StochasticEventSpec struct {
	Name        string
	Agent       string
	Kind        string
	Parameters  Params
	Propensity  string
	Realization []string
}

// StochasticEvent fires at random times with a per-instance propensity.
type StochasticEvent struct {
	Name        string
	Agent       *Agent
	Kind        Kind
	Parameters  Params
	Propensity  *expr.Expr
	Realization []*expr.Assignment
}

// ContinuousChangeSpec is the input of AddContinuousChange.
type ContinuousChangeSpec struct {
	Name     string
	Agent    string
	Property string
	// Source, when set and different from Agent, names the agent whose
	// instances each contribute Rate to the target property.
	Source     string
	Parameters Params
	Rate       string
}

// ContinuousChange contributes Rate to d(Agent.Property)/dt.
type ContinuousChange struct {
	Name         string
	Agent        *Agent
	Property     int
	PropertyName string
	Source       *Agent
	Parameters   Params
	Rate         *expr.Expr
}

// CrossPopulation reports whether the rate is summed over another agent's
// instances.
func (c *ContinuousChange) CrossPopulation() bool { return c.Source != c.Agent }

// Parameterized is implemented by every event kind.
type Parameterized interface {
	EventName() string
	Params() Params
}

func (e *DeterministicEvent) EventName() string { return e.Name }
func (e *DeterministicEvent) Params() Params    { return e.Parameters }
func (e *StochasticEvent) EventName() string    { return e.Name }
func (e *StochasticEvent) Params() Params       { return e.Parameters }
func (c *ContinuousChange) EventName() string   { return c.Name }
func (c *ContinuousChange) Params() Params      { return c.Parameters }

// AddDeterministicEvent declares an event fired when Trigger becomes true.
func (m *Model) AddDeterministicEvent(spec DeterministicEventSpec) (*DeterministicEvent, error) {
	const construct = "deterministic event"
	a, kind, err := m.checkEventHeader(construct, spec.Name, spec.Agent, spec.Kind, spec.Parameters)
	if err != nil {
		return nil, err
	}
	trigger, err := expr.CompileAs(spec.Trigger, expr.Bool, m.scope(a, spec.Parameters, false))
	if err != nil {
		return nil, newError(construct, spec.Name, fmt.Errorf("trigger: %w", err))
	}
	stmts, err := m.compileRealization(a, kind, spec.Parameters, spec.Realization)
	if err != nil {
		return nil, newError(construct, spec.Name, err)
	}

	e := &DeterministicEvent{
		Name:        spec.Name,
		Agent:       a,
		Kind:        kind,
		Parameters:  append(Params(nil), spec.Parameters...),
		Trigger:     trigger,
		Realization: stmts,
	}
	m.deterministic = append(m.deterministic, e)
	m.commitEvent(e.Name, e.Parameters)
	return e, nil
}

// AddStochasticEvent declares an event fired with the given propensity.
func (m *Model) AddStochasticEvent(spec StochasticEventSpec) (*StochasticEvent, error) {
	const construct = "stochastic event"
	a, kind, err := m.checkEventHeader(construct, spec.Name, spec.Agent, spec.Kind, spec.Parameters)
	if err != nil {
		return nil, err
	}
	propensity, err := expr.CompileAs(spec.Propensity, expr.Number, m.scope(a, spec.Parameters, false))
	if err != nil {
		return nil, newError(construct, spec.Name, fmt.Errorf("propensity: %w", err))
	}
	stmts, err := m.compileRealization(a, kind, spec.Parameters, spec.Realization)
	if err != nil {
		return nil, newError(construct, spec.Name, err)
	}

	e := &StochasticEvent{
		Name:        spec.Name,
		Agent:       a,
		Kind:        kind,
		Parameters:  append(Params(nil), spec.Parameters...),
		Propensity:  propensity,
		Realization: stmts,
	}
	m.stochastic = append(m.stochastic, e)
	m.commitEvent(e.Name, e.Parameters)
	return e, nil
}

// AddContinuousChange declares an ODE contribution to one property.
func (m *Model) AddContinuousChange(spec ContinuousChangeSpec) (*ContinuousChange, error) {
	const construct = "continuous change"
	if err := m.claimEventName(construct, spec.Name); err != nil {
		return nil, err
	}
	a, err := m.lookupAgent(construct, spec.Name, spec.Agent)
	if err != nil {
		return nil, err
	}
	prop, ok := a.PropertyIndex(spec.Property)
	if !ok {
		return nil, newError(construct, spec.Name, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, a.Name, spec.Property))
	}

	source := a
	if spec.Source != "" && spec.Source != spec.Agent {
		source, err = m.lookupAgent(construct, spec.Name, spec.Source)
		if err != nil {
			return nil, err
		}
		if !a.Unique {
			return nil, newError(construct, spec.Name,
				fmt.Errorf("%w: agent source %s needs a unique target, %s is not unique", ErrInvalid, source.Name, a.Name))
		}
	}
	if err := checkOwnParams(source, spec.Parameters); err != nil {
		return nil, newError(construct, spec.Name, err)
	}
	rate, err := expr.CompileAs(spec.Rate, expr.Number, m.scope(source, spec.Parameters, false))
	if err != nil {
		return nil, newError(construct, spec.Name, fmt.Errorf("rate: %w", err))
	}

	c := &ContinuousChange{
		Name:         spec.Name,
		Agent:        a,
		Property:     prop,
		PropertyName: spec.Property,
		Source:       source,
		Parameters:   append(Params(nil), spec.Parameters...),
		Rate:         rate,
	}
	m.continuous = append(m.continuous, c)
	m.commitEvent(c.Name, c.Parameters)
	return c, nil
}

func (m *Model) checkEventHeader(construct, name, agent, kind string, params Params) (*Agent, Kind, error) {
	if err := m.claimEventName(construct, name); err != nil {
		return nil, 0, err
	}
	a, err := m.lookupAgent(construct, name, agent)
	if err != nil {
		return nil, 0, err
	}
	k, err := ParseKind(kind)
	if err != nil {
		return nil, 0, newError(construct, name, err)
	}
	if k == Creation && a.Unique {
		return nil, 0, newError(construct, name, fmt.Errorf("%w: creation event on unique agent %s", ErrInvalid, a.Name))
	}
	if err := checkOwnParams(a, params); err != nil {
		return nil, 0, newError(construct, name, err)
	}
	return a, k, nil
}

// compileRealization compiles realization statements. Creation events must
// assign every property of the new instance.
func (m *Model) compileRealization(a *Agent, kind Kind, params Params, lines []string) ([]*expr.Assignment, error) {
	sc := m.scope(a, params, kind == Creation)
	stmts := make([]*expr.Assignment, 0, len(lines))
	assigned := make(map[int]bool)
	for _, line := range lines {
		s, err := expr.CompileAssignment(line, sc)
		if err != nil {
			return nil, fmt.Errorf("realization: %w", err)
		}
		if s.Target.Kind == expr.NewProperty {
			assigned[s.Target.Property] = true
		}
		stmts = append(stmts, s)
	}
	if kind == Creation {
		for i, p := range a.Properties {
			if !assigned[i] {
				return nil, fmt.Errorf("%w: new.%s", ErrUnassigned, p)
			}
		}
	}
	return stmts, nil
}

func (m *Model) commitEvent(name string, params Params) {
	m.eventNames[name] = true
	for _, p := range params {
		m.params[p.Name] = true
	}
}
