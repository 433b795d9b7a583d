package expr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Assignment is one realization statement: `target = value`.
type Assignment struct {
	Source string
	Target Symbol
	Value  *Expr
}

// SplitAssignment splits "lhs = rhs" at the first `=` that is not part of a
// comparison operator.
func SplitAssignment(line string) (lhs, rhs string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i > 0 && strings.ContainsRune("=!<>", rune(line[i-1])) {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			i++
			continue
		}
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
	}
	return "", "", false
}

// CompileAssignment parses and resolves one realization statement. The
// target must name a property (own, unique or new instance).
func CompileAssignment(line string, r Resolver) (*Assignment, error) {
	lhs, rhs, ok := SplitAssignment(line)
	if !ok || lhs == "" || rhs == "" {
		return nil, fmt.Errorf("%w: %q is not an assignment", ErrSyntax, line)
	}
	trav, diags := hclsyntax.ParseTraversalAbs([]byte(lhs), "<target>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: assignment target %q: %s", ErrSyntax, lhs, diags.Error())
	}
	path, err := traversalPath(trav)
	if err != nil {
		return nil, err
	}
	target, err := r.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("assignment %q: %w", line, err)
	}
	switch target.Kind {
	case Property, UniqueProperty, NewProperty:
	default:
		return nil, fmt.Errorf("assignment %q: %w: %s", line, ErrNotAssignable, target)
	}
	value, err := CompileAs(rhs, Number, r)
	if err != nil {
		return nil, fmt.Errorf("assignment %q: %w", line, err)
	}
	return &Assignment{Source: strings.TrimSpace(line), Target: target, Value: value}, nil
}

// LinkAssignments turns realization statements into a single closure that
// executes them in order. set receives the target symbol and the computed
// value; later statements observe the writes of earlier ones.
func LinkAssignments(stmts []*Assignment, params ParamFunc, set func(f Frame, target Symbol, v float64)) (func(Frame), error) {
	type step struct {
		target Symbol
		value  func(Frame) float64
	}
	steps := make([]step, len(stmts))
	for i, s := range stmts {
		fn, err := LinkNumber(s.Value, params)
		if err != nil {
			return nil, fmt.Errorf("assignment %q: %w", s.Source, err)
		}
		steps[i] = step{target: s.Target, value: fn}
	}
	return func(f Frame) {
		for _, s := range steps {
			set(f, s.target, s.value(f))
		}
	}, nil
}
