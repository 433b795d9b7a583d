package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/vk/cellpop/internal/expr"
)

const simPkg = "github.com/vk/cellpop/pkg/sim"

var mathFuncs = map[string]string{
	"exp":   "Exp",
	"log":   "Log",
	"sqrt":  "Sqrt",
	"abs":   "Abs",
	"floor": "Floor",
	"pow":   "Pow",
	"min":   "Min",
	"max":   "Max",
}

var scopeFuncs = map[string]string{
	"normal":      "Normal",
	"uniform":     "Uniform",
	"exponential": "Exponential",
}

func agentConst(agent string) string      { return "Agent_" + agent }
func propConst(agent, prop string) string { return agent + "_" + prop }

// number renders a float constant so that it is never an integer constant in
// the generated source.
func number(v float64) *jen.Statement {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	if v < 0 {
		return jen.Parens(jen.Id(s))
	}
	return jen.Id(s)
}

// render turns a compiled expression into Go source that evaluates it on a
// *sim.Scope named s.
func render(n expr.Node) (*jen.Statement, error) {
	switch x := n.(type) {
	case expr.Const:
		return number(x.Value), nil
	case expr.BoolConst:
		return jen.Lit(x.Value), nil
	case expr.Ref:
		return ref(x.Sym)
	case expr.Unary:
		operand, err := operand(x.X)
		if err != nil {
			return nil, err
		}
		if x.Op == expr.OpNot {
			return jen.Op("!").Add(operand), nil
		}
		return jen.Op("-").Add(operand), nil
	case expr.Binary:
		l, err := operand(x.L)
		if err != nil {
			return nil, err
		}
		r, err := operand(x.R)
		if err != nil {
			return nil, err
		}
		if x.Op == expr.OpMod {
			return jen.Qual("math", "Mod").Call(l, r), nil
		}
		return jen.Add(l).Op(string(x.Op)).Add(r), nil
	case expr.Cond:
		return cond(x)
	case expr.Call:
		return call(x)
	}
	return nil, fmt.Errorf("%w: node %T", ErrUnsupported, n)
}

// operand renders n, parenthesized when it is itself an operator expression.
func operand(n expr.Node) (*jen.Statement, error) {
	s, err := render(n)
	if err != nil {
		return nil, err
	}
	switch x := n.(type) {
	case expr.Binary:
		if x.Op != expr.OpMod {
			return jen.Parens(s), nil
		}
	case expr.Unary:
		return jen.Parens(s), nil
	}
	return s, nil
}

func ref(sym expr.Symbol) (*jen.Statement, error) {
	switch sym.Kind {
	case expr.Property:
		return jen.Id("s").Dot("Get").Call(jen.Id(propConst(sym.AgentName, sym.Name))), nil
	case expr.UniqueProperty:
		return jen.Id("s").Dot("Unique").Call(jen.Id(agentConst(sym.AgentName)), jen.Id(propConst(sym.AgentName, sym.Name))), nil
	case expr.NewProperty:
		return jen.Id("s").Dot("NewValue").Call(jen.Id(propConst(sym.AgentName, sym.Name))), nil
	case expr.Parameter:
		return jen.Id("params").Dot(sym.Name), nil
	case expr.Count:
		return jen.Id("s").Dot("Count").Call(jen.Id(agentConst(sym.AgentName))), nil
	}
	return nil, fmt.Errorf("%w: symbol %s", ErrUnsupported, sym)
}

// cond renders a conditional as an immediately invoked closure so that only
// the selected branch is evaluated.
func cond(c expr.Cond) (*jen.Statement, error) {
	test, err := render(c.If)
	if err != nil {
		return nil, err
	}
	then, err := render(c.Then)
	if err != nil {
		return nil, err
	}
	els, err := render(c.Else)
	if err != nil {
		return nil, err
	}
	result := jen.Float64()
	if c.Type() == expr.Bool {
		result = jen.Bool()
	}
	return jen.Func().Params().Add(result).Block(
		jen.If(test).Block(jen.Return(then)),
		jen.Return(els),
	).Call(), nil
}

func call(c expr.Call) (*jen.Statement, error) {
	args := make([]jen.Code, len(c.Args))
	for i, a := range c.Args {
		s, err := render(a)
		if err != nil {
			return nil, err
		}
		args[i] = s
	}
	if m, ok := scopeFuncs[c.Func.Name]; ok {
		return jen.Id("s").Dot(m).Call(args...), nil
	}
	if m, ok := mathFuncs[c.Func.Name]; ok {
		return jen.Qual("math", m).Call(args...), nil
	}
	return nil, fmt.Errorf("%w: function %s has no Go rendering", ErrUnsupported, c.Func.Name)
}

// assignment renders one realization statement.
func assignment(a *expr.Assignment) (*jen.Statement, error) {
	value, err := render(a.Value.Root)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", a.Source, err)
	}
	t := a.Target
	prop := jen.Id(propConst(t.AgentName, t.Name))
	switch t.Kind {
	case expr.NewProperty:
		return jen.Id("s").Dot("SetNew").Call(prop, value), nil
	case expr.UniqueProperty:
		return jen.Id("s").Dot("SetUnique").Call(jen.Id(agentConst(t.AgentName)), prop, value), nil
	case expr.Property:
		return jen.Id("s").Dot("Set").Call(prop, value), nil
	}
	return nil, fmt.Errorf("%w: cannot assign to %s", ErrUnsupported, t)
}
