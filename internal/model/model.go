// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Model aggregate and the identifier rules shared by
// all constructs.
package model

import (
	"fmt"
	"regexp"

	"github.com/vk/cellpop/internal/expr"
)

// Kind says what happens to the population when an event fires.
type Kind int

const (
	Creation Kind = iota
	Destruction
	Mutation
)

func (k Kind) String() string {
	switch k {
	case Creation:
		return "creation"
	case Destruction:
		return "destruction"
	default:
		return "mutation"
	}
}

// ParseKind maps "creation", "destruction" and "mutation" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "creation":
		return Creation, nil
	case "destruction":
		return Destruction, nil
	case "mutation":
		return Mutation, nil
	}
	return 0, fmt.Errorf("%w: %q (want creation, destruction or mutation)", ErrInvalidKind, s)
}

// Model is the generic hybrid event/ODE model.
type Model struct {
	Name string

	agents        []*Agent
	agentsByName  map[string]*Agent
	deterministic []*DeterministicEvent
	stochastic    []*StochasticEvent
	continuous    []*ContinuousChange
	eventNames    map[string]bool
	params        map[string]bool
	terminal      *expr.Expr
}

// New creates an empty model.
func New(name string) *Model {
	return &Model{
		Name:         name,
		agentsByName: make(map[string]*Agent),
		eventNames:   make(map[string]bool),
		params:       make(map[string]bool),
	}
}

// Agents returns the agent types in declaration order.
func (m *Model) Agents() []*Agent { return m.agents }

// Agent finds an agent type by name.
func (m *Model) Agent(name string) (*Agent, bool) {
	a, ok := m.agentsByName[name]
	return a, ok
}

// DeterministicEvents returns deterministic events in insertion order.
func (m *Model) DeterministicEvents() []*DeterministicEvent { return m.deterministic }

// StochasticEvents returns stochastic events in insertion order.
func (m *Model) StochasticEvents() []*StochasticEvent { return m.stochastic }

// ContinuousChanges returns continuous changes in insertion order.
func (m *Model) ContinuousChanges() []*ContinuousChange { return m.continuous }

// TerminalCondition returns the terminal condition, or nil when none is set.
func (m *Model) TerminalCondition() *expr.Expr { return m.terminal }

// HasParameter reports whether any event declared so far binds name.
func (m *Model) HasParameter(name string) bool { return m.params[name] }

// SetTerminalCondition installs a boolean expression that ends a trajectory
// when it becomes true. It may read unique-agent properties, agent counts
// (`Cell.count`) and parameters already declared by events.
func (m *Model) SetTerminalCondition(src string) error {
	e, err := expr.CompileAs(src, expr.Bool, m.scope(nil, nil, false))
	if err != nil {
		return newError("terminal condition", src, err)
	}
	m.terminal = e
	return nil
}

func (m *Model) claimEventName(construct, name string) error {
	if err := checkIdent(name); err != nil {
		return newError(construct, name, err)
	}
	if m.eventNames[name] {
		return newError(construct, name, ErrDuplicate)
	}
	return nil
}

func (m *Model) lookupAgent(construct, name, agent string) (*Agent, error) {
	a, ok := m.agentsByName[agent]
	if !ok {
		return nil, newError(construct, name, fmt.Errorf("%w: %s", ErrUnknownAgent, agent))
	}
	return a, nil
}

// checkOwnParams rejects parameters that would shadow a property of the
// owning agent.
func checkOwnParams(a *Agent, p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	for _, x := range p {
		if _, ok := a.PropertyIndex(x.Name); ok {
			return fmt.Errorf("%w: parameter %s shadows a property of %s", ErrInvalid, x.Name, a.Name)
		}
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var reserved = map[string]bool{
	// expression keywords and pseudo-names
	"new": true, "true": true, "false": true, "null": true,
	// Go keywords; names end up as identifiers in generated code
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if reserved[name] {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
