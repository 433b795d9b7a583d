// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines event parameters. Parameters are kept as an ordered list
// because their declaration order decides which binding wins when the same
// name is declared more than once in a model.
package model

import (
	"fmt"
	"math"
)

// Param is one named constant declared by an event.
type Param struct {
	Name  string
	Value float64
}

// Params is an ordered parameter mapping.
type Params []Param

// P is shorthand for building a Params list from name/value pairs.
func P(pairs ...any) Params {
	if len(pairs)%2 != 0 {
		panic("model.P: odd number of arguments")
	}
	out := make(Params, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("model.P: argument %d is not a name", i))
		}
		out = append(out, Param{Name: name, Value: toFloat(pairs[i+1])})
	}
	return out
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case float32:
		return float64(x)
	}
	panic(fmt.Sprintf("model.P: unsupported value %v", v))
}

// Lookup returns the value bound to name.
func (p Params) Lookup(name string) (float64, bool) {
	for _, x := range p {
		if x.Name == name {
			return x.Value, true
		}
	}
	return 0, false
}

// Names lists parameter names in declaration order.
func (p Params) Names() []string {
	out := make([]string, len(p))
	for i, x := range p {
		out[i] = x.Name
	}
	return out
}

func (p Params) validate() error {
	seen := make(map[string]bool, len(p))
	for _, x := range p {
		if err := checkIdent(x.Name); err != nil {
			return fmt.Errorf("parameter: %w", err)
		}
		if seen[x.Name] {
			return fmt.Errorf("%w: parameter %s declared twice", ErrDuplicate, x.Name)
		}
		if math.IsNaN(x.Value) || math.IsInf(x.Value, 0) {
			return fmt.Errorf("%w: parameter %s is not finite", ErrInvalid, x.Name)
		}
		seen[x.Name] = true
	}
	return nil
}
