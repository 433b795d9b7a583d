// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file implements name resolution for expressions attached to model
// constructs.
package model

import (
	"fmt"
	"strings"

	"github.com/vk/cellpop/internal/expr"
)

// scope resolves identifiers for one expression. A bare name is, in order:
// a property of the owning agent, a parameter (the construct's own or one
// declared earlier by another event), or a property of exactly one unique
// agent.
type scope struct {
	m        *Model
	owner    *Agent
	own      Params
	allowNew bool
}

func (m *Model) scope(owner *Agent, own Params, allowNew bool) *scope {
	return &scope{m: m, owner: owner, own: own, allowNew: allowNew}
}

func (s *scope) Resolve(path []string) (expr.Symbol, error) {
	switch len(path) {
	case 1:
		return s.resolveBare(path[0])
	case 2:
		return s.resolveQualified(path[0], path[1])
	}
	return expr.Symbol{}, fmt.Errorf("%w: %s", expr.ErrUnresolved, strings.Join(path, "."))
}

func (s *scope) resolveBare(name string) (expr.Symbol, error) {
	if s.owner != nil {
		if i, ok := s.owner.PropertyIndex(name); ok {
			return expr.Symbol{Kind: expr.Property, Agent: s.owner.Index, AgentName: s.owner.Name, Property: i, Name: name}, nil
		}
	}
	if _, ok := s.own.Lookup(name); ok || s.m.params[name] {
		return expr.Symbol{Kind: expr.Parameter, Name: name}, nil
	}

	var found []expr.Symbol
	for _, a := range s.m.agents {
		if !a.Unique || a == s.owner {
			continue
		}
		if i, ok := a.PropertyIndex(name); ok {
			found = append(found, expr.Symbol{Kind: expr.UniqueProperty, Agent: a.Index, AgentName: a.Name, Property: i, Name: name})
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return expr.Symbol{}, fmt.Errorf("%w: %s", expr.ErrUnresolved, name)
	}
	owners := make([]string, len(found))
	for i, f := range found {
		owners[i] = f.AgentName
	}
	return expr.Symbol{}, fmt.Errorf("%w: %s is ambiguous between %s; qualify it", expr.ErrUnresolved, name, strings.Join(owners, ", "))
}

func (s *scope) resolveQualified(head, attr string) (expr.Symbol, error) {
	if head == "new" {
		if !s.allowNew || s.owner == nil {
			return expr.Symbol{}, fmt.Errorf("%w: new.%s outside a creation realization", expr.ErrUnresolved, attr)
		}
		i, ok := s.owner.PropertyIndex(attr)
		if !ok {
			return expr.Symbol{}, fmt.Errorf("%w: new.%s", expr.ErrUnresolved, attr)
		}
		return expr.Symbol{Kind: expr.NewProperty, Agent: s.owner.Index, AgentName: s.owner.Name, Property: i, Name: attr}, nil
	}

	a, ok := s.m.agentsByName[head]
	if !ok {
		return expr.Symbol{}, fmt.Errorf("%w: %s.%s", expr.ErrUnresolved, head, attr)
	}
	i, isProp := a.PropertyIndex(attr)
	switch {
	case !isProp && attr == "count":
		return expr.Symbol{Kind: expr.Count, Agent: a.Index, AgentName: a.Name, Name: "count"}, nil
	case !isProp:
		return expr.Symbol{}, fmt.Errorf("%w: %s.%s", expr.ErrUnresolved, head, attr)
	case a == s.owner:
		return expr.Symbol{Kind: expr.Property, Agent: a.Index, AgentName: a.Name, Property: i, Name: attr}, nil
	case a.Unique:
		return expr.Symbol{Kind: expr.UniqueProperty, Agent: a.Index, AgentName: a.Name, Property: i, Name: attr}, nil
	}
	return expr.Symbol{}, fmt.Errorf("%w: %s.%s belongs to non-unique agent %s", expr.ErrUnresolved, head, attr, head)
}

// initScope resolves initial-value expressions: only the agent's own
// properties are visible.
type initScope struct {
	a *Agent
}

func (s initScope) Resolve(path []string) (expr.Symbol, error) {
	name := path[len(path)-1]
	if len(path) == 1 || (len(path) == 2 && path[0] == s.a.Name) {
		if i, ok := s.a.PropertyIndex(name); ok {
			return expr.Symbol{Kind: expr.Property, Agent: s.a.Index, AgentName: s.a.Name, Property: i, Name: name}, nil
		}
	}
	return expr.Symbol{}, fmt.Errorf("%w: %s (initial values may only use the agent's own properties)", expr.ErrUnresolved, strings.Join(path, "."))
}
