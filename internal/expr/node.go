package expr

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnresolved      = errors.New("unresolved identifier")
	ErrUnsupported     = errors.New("unsupported expression")
	ErrType            = errors.New("type mismatch")
	ErrUnknownFunction = errors.New("unknown function")
	ErrArity           = errors.New("wrong number of arguments")
	ErrNotAssignable   = errors.New("not assignable")
)

// Type is the static type of an expression node.
type Type int

const (
	Number Type = iota
	Bool
)

func (t Type) String() string {
	if t == Bool {
		return "bool"
	}
	return "number"
}

// SymbolKind tells what storage a resolved identifier refers to.
type SymbolKind int

const (
	// Property is a property of the agent instance that owns the expression.
	Property SymbolKind = iota
	// UniqueProperty is a property of the single instance of a unique agent.
	UniqueProperty
	// NewProperty is a property of the instance being created by a creation event.
	NewProperty
	// Parameter is a model parameter; it is constant for the whole run.
	Parameter
	// Count is the number of live instances of an agent type.
	Count
)

// Symbol is a resolved identifier.
type Symbol struct {
	Kind      SymbolKind
	Agent     int
	AgentName string
	Property  int
	Name      string
}

func (s Symbol) String() string {
	switch s.Kind {
	case UniqueProperty:
		return s.AgentName + "." + s.Name
	case NewProperty:
		return "new." + s.Name
	case Count:
		return s.AgentName + ".count"
	default:
		return s.Name
	}
}

// Resolver maps a dotted identifier path (["IP"], ["new", "age"],
// ["Medium", "IP"]) to a Symbol. Implementations return an error wrapping
// ErrUnresolved for names outside their symbol table.
type Resolver interface {
	Resolve(path []string) (Symbol, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(path []string) (Symbol, error)

func (f ResolverFunc) Resolve(path []string) (Symbol, error) { return f(path) }

// Op is an operator; its spelling matches Go.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpMod Op = "%"
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLe  Op = "<="
	OpGt  Op = ">"
	OpGe  Op = ">="
	OpAnd Op = "&&"
	OpOr  Op = "||"
	OpNot Op = "!"
	OpNeg Op = "neg"
)

// Node is one element of a compiled expression tree.
type Node interface {
	Type() Type
	String() string
}

type (
	// Const is a numeric literal.
	Const struct{ Value float64 }
	// BoolConst is a boolean literal.
	BoolConst struct{ Value bool }
	// Ref reads a resolved symbol.
	Ref struct{ Sym Symbol }
	// Unary is negation or logical not.
	Unary struct {
		Op Op
		X  Node
	}
	// Binary is an arithmetic, comparison or logical operator.
	Binary struct {
		Op   Op
		L, R Node
	}
	// Cond is `If ? Then : Else`. Only the selected branch is evaluated.
	Cond struct {
		If, Then, Else Node
	}
	// Call invokes a builtin function.
	Call struct {
		Func *Function
		Args []Node
	}
)

func (Const) Type() Type     { return Number }
func (BoolConst) Type() Type { return Bool }
func (Ref) Type() Type       { return Number }
func (u Unary) Type() Type {
	if u.Op == OpNot {
		return Bool
	}
	return Number
}
func (b Binary) Type() Type {
	switch b.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return Number
	}
	return Bool
}
func (c Cond) Type() Type { return c.Then.Type() }
func (Call) Type() Type   { return Number }

func (c Const) String() string     { return strconv.FormatFloat(c.Value, 'g', -1, 64) }
func (b BoolConst) String() string { return strconv.FormatBool(b.Value) }
func (r Ref) String() string       { return r.Sym.String() }
func (u Unary) String() string {
	if u.Op == OpNeg {
		return "-" + u.X.String()
	}
	return "!" + u.X.String()
}
func (b Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.L, b.Op, b.R)
}
func (c Cond) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", c.If, c.Then, c.Else)
}
func (c Call) String() string {
	s := c.Func.Name + "("
	for i, a := range c.Args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ")"
}

// Expr is a compiled expression together with its source text.
type Expr struct {
	Source string
	Root   Node
}

// Type returns the static type of the expression.
func (e *Expr) Type() Type { return e.Root.Type() }

func (e *Expr) String() string { return e.Root.String() }

// Symbols returns every symbol read by the expression, in first-use order.
func (e *Expr) Symbols() []Symbol {
	var out []Symbol
	seen := make(map[Symbol]bool)
	Walk(e.Root, func(n Node) {
		if r, ok := n.(Ref); ok && !seen[r.Sym] {
			seen[r.Sym] = true
			out = append(out, r.Sym)
		}
	})
	return out
}

// IsRandom reports whether evaluating the expression draws random numbers.
func (e *Expr) IsRandom() bool {
	random := false
	Walk(e.Root, func(n Node) {
		if c, ok := n.(Call); ok && c.Func.Random {
			random = true
		}
	})
	return random
}

// Walk visits n and all of its descendants depth-first.
func Walk(n Node, visit func(Node)) {
	visit(n)
	switch x := n.(type) {
	case Unary:
		Walk(x.X, visit)
	case Binary:
		Walk(x.L, visit)
		Walk(x.R, visit)
	case Cond:
		Walk(x.If, visit)
		Walk(x.Then, visit)
		Walk(x.Else, visit)
	case Call:
		for _, a := range x.Args {
			Walk(a, visit)
		}
	}
}
