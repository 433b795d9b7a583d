package codegen

import (
	"fmt"

	"github.com/dave/jennifer/jen"
	"github.com/vk/cellpop/internal/expr"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/params"
)

// multi renders a composite literal body with one element per line.
func multi(items ...jen.Code) *jen.Statement {
	return jen.Custom(jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}, items...)
}

func field(name string, value jen.Code) jen.Code {
	return jen.Id(name).Op(":").Add(value)
}

func scopeParam() jen.Code {
	return jen.Id("s").Op("*").Qual(simPkg, "Scope")
}

func kindConst(k model.Kind) jen.Code {
	switch k {
	case model.Creation:
		return jen.Qual(simPkg, "Creation")
	case model.Destruction:
		return jen.Qual(simPkg, "Destruction")
	}
	return jen.Qual(simPkg, "Mutation")
}

// parameters emits the declaration artifact: one float64 slot per
// parameter, in binding order.
func (g *generator) parameters(f *jen.File) error {
	names := params.Declare(g.m)
	fields := make([]jen.Code, len(names))
	for i, n := range names {
		fields[i] = jen.Id(n).Float64()
	}
	f.Comment("Params holds one slot per model parameter.")
	f.Type().Id("Params").Struct(fields...)
	return nil
}

// parameterValues emits the definition artifact: every parameter bound to
// its first-seen value, in binding order.
func (g *generator) parameterValues(f *jen.File) error {
	defs := params.Define(g.m)
	items := make([]jen.Code, len(defs))
	for i, d := range defs {
		items[i] = field(d.Name, number(d.Value))
	}
	f.Var().Id("params").Op("=").Id("Params").Add(multi(items...))
	return nil
}

func (g *generator) agents(f *jen.File) error {
	agents := g.m.Agents()

	consts := make([]jen.Code, 0, len(agents))
	for _, a := range agents {
		consts = append(consts, jen.Id(agentConst(a.Name)).Op("=").Lit(a.Index))
	}
	f.Comment("Agent indices.")
	f.Const().Defs(consts...)

	for _, a := range agents {
		if len(a.Properties) == 0 {
			continue
		}
		props := make([]jen.Code, len(a.Properties))
		for i, p := range a.Properties {
			props[i] = jen.Id(propConst(a.Name, p)).Op("=").Lit(i)
		}
		f.Comment(fmt.Sprintf("Properties of %s.", a.Name))
		f.Const().Defs(props...)
	}

	table := make([]jen.Code, 0, len(agents))
	for _, a := range agents {
		names := make([]jen.Code, len(a.Properties))
		for i, p := range a.Properties {
			names[i] = jen.Lit(p)
		}
		items := []jen.Code{
			field("Name", jen.Lit(a.Name)),
			field("Unique", jen.Lit(a.Unique)),
			field("Properties", jen.Index().String().Values(names...)),
			field("Count", jen.Lit(a.InitialCount())),
		}
		init, err := initializer(a)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
		if init != nil {
			items = append(items, field("Init", init))
		}
		table = append(table, multi(items...))
	}
	f.Var().Id("agents").Op("=").Index().Qual(simPkg, "AgentType").Add(multi(table...))
	return nil
}

func initializer(a *model.Agent) (jen.Code, error) {
	var body []jen.Code
	for _, p := range a.InitOrder {
		e := a.Initial[p]
		if e == nil {
			continue
		}
		v, err := render(e.Root)
		if err != nil {
			return nil, fmt.Errorf("initial value of %s: %w", a.Properties[p], err)
		}
		body = append(body, jen.Id("s").Dot("Set").Call(jen.Id(propConst(a.Name, a.Properties[p])), v))
	}
	if len(body) == 0 {
		return nil, nil
	}
	return jen.Func().Params(scopeParam()).Block(body...), nil
}

func realize(stmts []*expr.Assignment) (jen.Code, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	body := make([]jen.Code, len(stmts))
	for i, s := range stmts {
		code, err := assignment(s)
		if err != nil {
			return nil, err
		}
		body[i] = code
	}
	return jen.Func().Params(scopeParam()).Block(body...), nil
}

func predicate(e *expr.Expr) (jen.Code, error) {
	v, err := render(e.Root)
	if err != nil {
		return nil, err
	}
	return jen.Func().Params(scopeParam()).Bool().Block(jen.Return(v)), nil
}

func rate(e *expr.Expr) (jen.Code, error) {
	v, err := render(e.Root)
	if err != nil {
		return nil, err
	}
	return jen.Func().Params(scopeParam()).Float64().Block(jen.Return(v)), nil
}

func (g *generator) events(f *jen.File) error {
	var det []jen.Code
	for _, e := range g.m.DeterministicEvents() {
		trigger, err := predicate(e.Trigger)
		if err != nil {
			return fmt.Errorf("deterministic event %s: %w", e.Name, err)
		}
		items := []jen.Code{
			field("Name", jen.Lit(e.Name)),
			field("Agent", jen.Id(agentConst(e.Agent.Name))),
			field("Kind", kindConst(e.Kind)),
			field("Trigger", trigger),
		}
		r, err := realize(e.Realization)
		if err != nil {
			return fmt.Errorf("deterministic event %s: %w", e.Name, err)
		}
		if r != nil {
			items = append(items, field("Realize", r))
		}
		det = append(det, multi(items...))
	}
	f.Var().Id("deterministic").Op("=").Index().Qual(simPkg, "DeterministicRule").Add(multi(det...))

	var sto []jen.Code
	for _, e := range g.m.StochasticEvents() {
		propensity, err := rate(e.Propensity)
		if err != nil {
			return fmt.Errorf("stochastic event %s: %w", e.Name, err)
		}
		items := []jen.Code{
			field("Name", jen.Lit(e.Name)),
			field("Agent", jen.Id(agentConst(e.Agent.Name))),
			field("Kind", kindConst(e.Kind)),
			field("Propensity", propensity),
		}
		r, err := realize(e.Realization)
		if err != nil {
			return fmt.Errorf("stochastic event %s: %w", e.Name, err)
		}
		if r != nil {
			items = append(items, field("Realize", r))
		}
		sto = append(sto, multi(items...))
	}
	f.Var().Id("stochastic").Op("=").Index().Qual(simPkg, "StochasticRule").Add(multi(sto...))

	var cont []jen.Code
	for _, c := range g.m.ContinuousChanges() {
		fn, err := rate(c.Rate)
		if err != nil {
			return fmt.Errorf("continuous change %s: %w", c.Name, err)
		}
		cont = append(cont, multi(
			field("Name", jen.Lit(c.Name)),
			field("Agent", jen.Id(agentConst(c.Agent.Name))),
			field("Property", jen.Id(propConst(c.Agent.Name, c.PropertyName))),
			field("Source", jen.Id(agentConst(c.Source.Name))),
			field("Rate", fn),
		))
	}
	f.Var().Id("continuous").Op("=").Index().Qual(simPkg, "RateRule").Add(multi(cont...))

	if t := g.m.TerminalCondition(); t != nil {
		fn, err := predicate(t)
		if err != nil {
			return fmt.Errorf("terminal condition: %w", err)
		}
		f.Var().Id("terminal").Op("=").Add(fn)
	} else {
		f.Var().Id("terminal").Func().Params(jen.Op("*").Qual(simPkg, "Scope")).Bool()
	}
	return nil
}

func (g *generator) main(f *jen.File) error {
	exit := func(msg string) jen.Code {
		return jen.Block(
			jen.Qual("fmt", "Fprintln").Call(jen.Qual("os", "Stderr"), jen.Lit(msg), jen.Err()),
			jen.Qual("os", "Exit").Call(jen.Lit(1)),
		)
	}
	f.Func().Id("main").Params().Block(
		jen.Id("stop").Op(":=").Qual("flag", "Float64").Call(jen.Lit("stop"), jen.Lit(100.0), jen.Lit("simulation stop time")),
		jen.Id("seed").Op(":=").Qual("flag", "Uint64").Call(jen.Lit("seed"), jen.Lit(1), jen.Lit("random seed")),
		jen.Id("dt").Op(":=").Qual("flag", "Float64").Call(jen.Lit("dt"), jen.Qual(simPkg, "DefaultStep"), jen.Lit("maximum integration step")),
		jen.Id("every").Op(":=").Qual("flag", "Float64").Call(jen.Lit("record-every"), jen.Lit(0.0), jen.Lit("snapshot interval, 0 records only the initial and final states")),
		jen.Qual("flag", "Parse").Call(),
		jen.Line(),
		jen.Id("prog").Op(":=").Op("&").Qual(simPkg, "Program").Add(multi(
			field("Name", jen.Lit(g.m.Name)),
			field("Agents", jen.Id("agents")),
			field("Deterministic", jen.Id("deterministic")),
			field("Stochastic", jen.Id("stochastic")),
			field("Continuous", jen.Id("continuous")),
			field("Terminal", jen.Id("terminal")),
		)),
		jen.List(jen.Id("res"), jen.Err()).Op(":=").Qual(simPkg, "Run").Call(
			jen.Qual("context", "Background").Call(),
			jen.Id("prog"),
			jen.Qual(simPkg, "Options").Add(multi(
				field("StopTime", jen.Op("*").Id("stop")),
				field("Seed", jen.Op("*").Id("seed")),
				field("Step", jen.Op("*").Id("dt")),
				field("RecordEvery", jen.Op("*").Id("every")),
			)),
		),
		jen.If(jen.Err().Op("!=").Nil()).Add(exit("simulation failed:")),
		jen.Line(),
		jen.Id("enc").Op(":=").Qual("encoding/json", "NewEncoder").Call(jen.Qual("os", "Stdout")),
		jen.Id("enc").Dot("SetIndent").Call(jen.Lit(""), jen.Lit("  ")),
		jen.If(jen.Err().Op(":=").Id("enc").Dot("Encode").Call(jen.Id("res")), jen.Err().Op("!=").Nil()).Add(exit("write result:")),
	)
	return nil
}
