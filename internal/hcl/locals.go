package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/cellpop/internal/dag"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// functions are the numeric helpers available when evaluating locals and
// parameter values.
var functions = map[string]function.Function{
	"abs":   stdlib.AbsoluteFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"log":   stdlib.LogFunc,
	"max":   stdlib.MaxFunc,
	"min":   stdlib.MinFunc,
	"pow":   stdlib.PowFunc,
}

var localsSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{{Type: "locals"}},
}

// evalLocals collects the locals blocks of every file and evaluates them in
// dependency order. The returned context exposes them as local.<name>.
func evalLocals(files []*hcl.File) (*hcl.EvalContext, error) {
	attrs := make(map[string]*hcl.Attribute)
	g := dag.New()
	for _, f := range files {
		content, _, diags := f.Body.PartialContent(localsSchema)
		if diags.HasErrors() {
			return nil, diags
		}
		for _, block := range content.Blocks {
			blockAttrs, diags := block.Body.JustAttributes()
			if diags.HasErrors() {
				return nil, diags
			}
			for name, a := range blockAttrs {
				if prev, dup := attrs[name]; dup {
					return nil, fmt.Errorf("%s: local %s is already defined at %s", a.NameRange, name, prev.NameRange)
				}
				attrs[name] = a
				g.AddNode(name)
			}
		}
	}

	for name, a := range attrs {
		for _, tr := range a.Expr.Variables() {
			if tr.RootName() != "local" {
				continue
			}
			dep, ok := localName(tr)
			if !ok {
				return nil, fmt.Errorf("%s: invalid reference to locals", tr.SourceRange())
			}
			if _, known := attrs[dep]; !known {
				return nil, fmt.Errorf("%s: unknown local %s", tr.SourceRange(), dep)
			}
			if err := g.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("local %s: %w", name, err)
			}
		}
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("locals: %w", err)
	}

	values := make(map[string]cty.Value, len(order))
	ctx := &hcl.EvalContext{Functions: functions}
	for _, name := range order {
		ctx.Variables = map[string]cty.Value{"local": cty.ObjectVal(values)}
		v, diags := attrs[name].Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, diags
		}
		values[name] = v
	}
	ctx.Variables = map[string]cty.Value{"local": cty.ObjectVal(values)}
	return ctx, nil
}

func localName(tr hcl.Traversal) (string, bool) {
	if len(tr) < 2 {
		return "", false
	}
	switch step := tr[1].(type) {
	case hcl.TraverseAttr:
		return step.Name, true
	case hcl.TraverseIndex:
		if step.Key.Type() == cty.String {
			return step.Key.AsString(), true
		}
	}
	return "", false
}
