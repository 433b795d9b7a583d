package expr

import (
	"fmt"
	"math"
)

// Frame is the evaluation context of a linked expression: the agent
// instance being evaluated, the population it lives in and the random
// stream of the trajectory.
type Frame interface {
	Get(prop int) float64
	Unique(agent, prop int) float64
	NewValue(prop int) float64
	Count(agent int) float64
	Normal(mu, sigma float64) float64
	Uniform(lo, hi float64) float64
	Exponential(rate float64) float64
}

// ParamFunc returns the bound value of a model parameter.
type ParamFunc func(name string) (float64, bool)

type (
	numFn  func(Frame) float64
	boolFn func(Frame) bool
)

// LinkNumber turns a numeric expression into a closure. Parameters are folded
// into constants using params.
func LinkNumber(e *Expr, params ParamFunc) (func(Frame) float64, error) {
	if e.Type() != Number {
		return nil, fmt.Errorf("expression %q: %w: want number", e.Source, ErrType)
	}
	l := linker{params: params}
	fn, err := l.num(e.Root)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", e.Source, err)
	}
	return fn, nil
}

// LinkBool turns a boolean expression into a closure.
func LinkBool(e *Expr, params ParamFunc) (func(Frame) bool, error) {
	if e.Type() != Bool {
		return nil, fmt.Errorf("expression %q: %w: want bool", e.Source, ErrType)
	}
	l := linker{params: params}
	fn, err := l.boolean(e.Root)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", e.Source, err)
	}
	return fn, nil
}

type linker struct {
	params ParamFunc
}

func (l linker) num(n Node) (numFn, error) {
	switch x := n.(type) {
	case Const:
		v := x.Value
		return func(Frame) float64 { return v }, nil

	case Ref:
		return l.ref(x.Sym)

	case Unary:
		v, err := l.num(x.X)
		if err != nil {
			return nil, err
		}
		return func(f Frame) float64 { return -v(f) }, nil

	case Binary:
		a, err := l.num(x.L)
		if err != nil {
			return nil, err
		}
		b, err := l.num(x.R)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case OpAdd:
			return func(f Frame) float64 { return a(f) + b(f) }, nil
		case OpSub:
			return func(f Frame) float64 { return a(f) - b(f) }, nil
		case OpMul:
			return func(f Frame) float64 { return a(f) * b(f) }, nil
		case OpDiv:
			return func(f Frame) float64 { return a(f) / b(f) }, nil
		case OpMod:
			return func(f Frame) float64 { return math.Mod(a(f), b(f)) }, nil
		}

	case Cond:
		c, err := l.boolean(x.If)
		if err != nil {
			return nil, err
		}
		t, err := l.num(x.Then)
		if err != nil {
			return nil, err
		}
		e, err := l.num(x.Else)
		if err != nil {
			return nil, err
		}
		return func(f Frame) float64 {
			if c(f) {
				return t(f)
			}
			return e(f)
		}, nil

	case Call:
		args := make([]numFn, len(x.Args))
		for i, a := range x.Args {
			fn, err := l.num(a)
			if err != nil {
				return nil, err
			}
			args[i] = fn
		}
		eval := x.Func.Eval
		return func(f Frame) float64 {
			vals := make([]float64, len(args))
			for i, a := range args {
				vals[i] = a(f)
			}
			return eval(f, vals)
		}, nil
	}
	return nil, fmt.Errorf("%w: %s is not numeric", ErrType, n)
}

func (l linker) ref(s Symbol) (numFn, error) {
	switch s.Kind {
	case Property:
		p := s.Property
		return func(f Frame) float64 { return f.Get(p) }, nil
	case UniqueProperty:
		a, p := s.Agent, s.Property
		return func(f Frame) float64 { return f.Unique(a, p) }, nil
	case NewProperty:
		p := s.Property
		return func(f Frame) float64 { return f.NewValue(p) }, nil
	case Count:
		a := s.Agent
		return func(f Frame) float64 { return f.Count(a) }, nil
	case Parameter:
		if l.params == nil {
			return nil, fmt.Errorf("%w: parameter %s has no binding", ErrUnresolved, s.Name)
		}
		v, ok := l.params(s.Name)
		if !ok {
			return nil, fmt.Errorf("%w: parameter %s has no binding", ErrUnresolved, s.Name)
		}
		return func(Frame) float64 { return v }, nil
	}
	return nil, fmt.Errorf("%w: symbol %s", ErrUnsupported, s)
}

func (l linker) boolean(n Node) (boolFn, error) {
	switch x := n.(type) {
	case BoolConst:
		v := x.Value
		return func(Frame) bool { return v }, nil

	case Unary:
		v, err := l.boolean(x.X)
		if err != nil {
			return nil, err
		}
		return func(f Frame) bool { return !v(f) }, nil

	case Cond:
		c, err := l.boolean(x.If)
		if err != nil {
			return nil, err
		}
		t, err := l.boolean(x.Then)
		if err != nil {
			return nil, err
		}
		e, err := l.boolean(x.Else)
		if err != nil {
			return nil, err
		}
		return func(f Frame) bool {
			if c(f) {
				return t(f)
			}
			return e(f)
		}, nil

	case Binary:
		switch x.Op {
		case OpAnd, OpOr:
			a, err := l.boolean(x.L)
			if err != nil {
				return nil, err
			}
			b, err := l.boolean(x.R)
			if err != nil {
				return nil, err
			}
			if x.Op == OpAnd {
				return func(f Frame) bool { return a(f) && b(f) }, nil
			}
			return func(f Frame) bool { return a(f) || b(f) }, nil
		}
		if x.L.Type() == Bool {
			a, err := l.boolean(x.L)
			if err != nil {
				return nil, err
			}
			b, err := l.boolean(x.R)
			if err != nil {
				return nil, err
			}
			if x.Op == OpEq {
				return func(f Frame) bool { return a(f) == b(f) }, nil
			}
			return func(f Frame) bool { return a(f) != b(f) }, nil
		}
		a, err := l.num(x.L)
		if err != nil {
			return nil, err
		}
		b, err := l.num(x.R)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case OpEq:
			return func(f Frame) bool { return a(f) == b(f) }, nil
		case OpNe:
			return func(f Frame) bool { return a(f) != b(f) }, nil
		case OpLt:
			return func(f Frame) bool { return a(f) < b(f) }, nil
		case OpLe:
			return func(f Frame) bool { return a(f) <= b(f) }, nil
		case OpGt:
			return func(f Frame) bool { return a(f) > b(f) }, nil
		case OpGe:
			return func(f Frame) bool { return a(f) >= b(f) }, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not boolean", ErrType, n)
}
