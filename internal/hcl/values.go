package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/network"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// isDefined reports whether an optional attribute was written in the file.
// gohcl fills omitted optional expressions with a zero-width placeholder.
func isDefined(e hcl.Expression) bool {
	if e == nil {
		return false
	}
	r := e.Range()
	return r.End.Byte > r.Start.Byte
}

// entry is one key of an object constructor, in source order.
type entry struct {
	Key   string
	Value hcl.Expression
}

// entries lists the items of an object constructor without evaluating the
// values. cty objects do not keep attribute order, so the syntax tree is
// read directly.
func entries(e hcl.Expression) ([]entry, error) {
	if !isDefined(e) {
		return nil, nil
	}
	pairs, diags := hcl.ExprMap(e)
	if diags.HasErrors() {
		return nil, diags
	}
	out := make([]entry, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, kv := range pairs {
		k, diags := kv.Key.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		if k.IsNull() || !k.IsKnown() || k.Type() != cty.String {
			return nil, fmt.Errorf("%s: object keys must be names", kv.Key.Range())
		}
		name := k.AsString()
		if seen[name] {
			return nil, fmt.Errorf("%s: %w: key %s", kv.Key.Range(), model.ErrDuplicate, name)
		}
		seen[name] = true
		out = append(out, entry{Key: name, Value: kv.Value})
	}
	return out, nil
}

// number evaluates an expression to a float64.
func number(e hcl.Expression, ctx *hcl.EvalContext) (float64, error) {
	val, diags := e.Value(ctx)
	if diags.HasErrors() {
		return 0, diags
	}
	val, err := convert.Convert(val, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Range(), err)
	}
	if val.IsNull() {
		return 0, fmt.Errorf("%s: value is null", e.Range())
	}
	var f float64
	if err := gocty.FromCtyValue(val, &f); err != nil {
		return 0, fmt.Errorf("%s: %w", e.Range(), err)
	}
	return f, nil
}

// params evaluates an ordered object of numbers.
func params(e hcl.Expression, ctx *hcl.EvalContext) (model.Params, error) {
	items, err := entries(e)
	if err != nil {
		return nil, err
	}
	out := make(model.Params, 0, len(items))
	for _, it := range items {
		v, err := number(it.Value, ctx)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", it.Key, err)
		}
		out = append(out, model.Param{Name: it.Key, Value: v})
	}
	return out, nil
}

// rates evaluates an ordered object of named reaction rates. want is the
// exact number of entries.
func rates(e hcl.Expression, ctx *hcl.EvalContext, want int) ([]network.Rate, error) {
	ps, err := params(e, ctx)
	if err != nil {
		return nil, err
	}
	if len(ps) != want {
		return nil, fmt.Errorf("%s: expected %d rates, got %d", e.Range(), want, len(ps))
	}
	out := make([]network.Rate, len(ps))
	for i, p := range ps {
		out[i] = network.Rate{Name: p.Name, Value: p.Value}
	}
	return out, nil
}

// source returns the text of a model expression. Quoted strings are taken
// as the expression source; anything else is the native syntax as written.
func (l *loader) source(e hcl.Expression) (string, error) {
	if t, ok := e.(*hclsyntax.TemplateExpr); ok && t.IsStringLiteral() {
		v, diags := t.Value(nil)
		if diags.HasErrors() {
			return "", diags
		}
		return v.AsString(), nil
	}
	for _, tr := range e.Variables() {
		if tr.RootName() == "local" {
			return "", fmt.Errorf("%s: locals cannot be used in model expressions; declare a parameter instead", tr.SourceRange())
		}
	}
	r := e.Range()
	f, ok := l.parser.Files()[r.Filename]
	if !ok {
		return "", fmt.Errorf("%s: source file not loaded", r)
	}
	return string(r.SliceBytes(f.Bytes)), nil
}
