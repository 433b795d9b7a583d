// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines agent types and their per-instance initial values.
package model

import (
	"errors"
	"fmt"

	"github.com/vk/cellpop/internal/dag"
	"github.com/vk/cellpop/internal/expr"
)

// AgentSpec is the input of AddAgent.
type AgentSpec struct {
	Name       string
	Unique     bool
	Properties []string
	// Initial maps property names to initial-value expressions; missing
	// properties start at 0.
	Initial map[string]string
	// Count is the number of instances present at time 0. It is ignored for
	// unique agents, which always have one instance.
	Count int
}

// Agent is a validated agent type.
type Agent struct {
	Name       string
	Index      int
	Unique     bool
	Properties []string
	Count      int
	// Initial holds one expression per property; nil means 0.
	Initial []*expr.Expr
	// InitOrder lists property indices in an order where every initial value
	// is computed after the properties it reads.
	InitOrder []int

	index map[string]int
}

// PropertyIndex returns the position of a property.
func (a *Agent) PropertyIndex(name string) (int, bool) {
	i, ok := a.index[name]
	return i, ok
}

// InitialCount is the number of instances created at time 0.
func (a *Agent) InitialCount() int {
	if a.Unique {
		return 1
	}
	return a.Count
}

// AddAgent declares an agent type.
func (m *Model) AddAgent(spec AgentSpec) (*Agent, error) {
	const construct = "agent"
	if err := checkIdent(spec.Name); err != nil {
		return nil, newError(construct, spec.Name, err)
	}
	if _, exists := m.agentsByName[spec.Name]; exists {
		return nil, newError(construct, spec.Name, ErrDuplicate)
	}
	if spec.Count < 0 {
		return nil, newError(construct, spec.Name, fmt.Errorf("%w: negative instance count %d", ErrInvalid, spec.Count))
	}

	a := &Agent{
		Name:       spec.Name,
		Index:      len(m.agents),
		Unique:     spec.Unique,
		Properties: append([]string(nil), spec.Properties...),
		Count:      spec.Count,
		Initial:    make([]*expr.Expr, len(spec.Properties)),
		index:      make(map[string]int, len(spec.Properties)),
	}
	for i, p := range a.Properties {
		if err := checkIdent(p); err != nil {
			return nil, newError(construct, spec.Name, fmt.Errorf("property: %w", err))
		}
		if _, dup := a.index[p]; dup {
			return nil, newError(construct, spec.Name, fmt.Errorf("%w: property %s", ErrDuplicate, p))
		}
		a.index[p] = i
	}

	order, err := a.compileInitial(spec.Initial)
	if err != nil {
		return nil, newError(construct, spec.Name, err)
	}
	a.InitOrder = order

	m.agents = append(m.agents, a)
	m.agentsByName[a.Name] = a
	return a, nil
}

// compileInitial compiles the initial-value expressions and orders them by
// their dependencies on one another.
func (a *Agent) compileInitial(initial map[string]string) ([]int, error) {
	g := dag.New()
	for _, p := range a.Properties {
		g.AddNode(p)
	}
	for name := range initial {
		if _, ok := a.index[name]; !ok {
			return nil, fmt.Errorf("%w: initial value for %s", ErrUnknownProperty, name)
		}
	}
	// Iterate in property order so errors and edges are deterministic.
	for i, p := range a.Properties {
		src, ok := initial[p]
		if !ok {
			continue
		}
		e, err := expr.CompileAs(src, expr.Number, initScope{a: a})
		if err != nil {
			return nil, fmt.Errorf("initial value of %s: %w", p, err)
		}
		a.Initial[i] = e
		for _, sym := range e.Symbols() {
			if err := g.AddEdge(sym.Name, p); err != nil {
				return nil, fmt.Errorf("%w: initial value of %s: %v", ErrInvalid, p, err)
			}
		}
	}
	names, err := g.TopologicalOrder()
	if err != nil {
		return nil, errors.Join(ErrInvalid, fmt.Errorf("initial values: %w", err))
	}
	order := make([]int, len(names))
	for i, n := range names {
		order[i] = a.index[n]
	}
	return order, nil
}
