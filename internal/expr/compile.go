package expr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

var operators = map[*hclsyntax.Operation]Op{
	hclsyntax.OpAdd:                OpAdd,
	hclsyntax.OpSubtract:           OpSub,
	hclsyntax.OpMultiply:           OpMul,
	hclsyntax.OpDivide:             OpDiv,
	hclsyntax.OpModulo:             OpMod,
	hclsyntax.OpEqual:              OpEq,
	hclsyntax.OpNotEqual:           OpNe,
	hclsyntax.OpLessThan:           OpLt,
	hclsyntax.OpLessThanOrEqual:    OpLe,
	hclsyntax.OpGreaterThan:        OpGt,
	hclsyntax.OpGreaterThanOrEqual: OpGe,
	hclsyntax.OpLogicalAnd:         OpAnd,
	hclsyntax.OpLogicalOr:          OpOr,
	hclsyntax.OpLogicalNot:         OpNot,
	hclsyntax.OpNegate:             OpNeg,
}

// Normalize rewrites legacy spellings accepted in model scripts into HCL
// syntax: numbers with a trailing dot ("0." becomes "0.0", "1.e-3" becomes
// "1.0e-3") and the `ran.norm(` sampler alias.
func Normalize(src string) string {
	src = replaceName(src, "ran.norm", "normal")

	var b strings.Builder
	b.Grow(len(src) + 4)
	for i := 0; i < len(src); i++ {
		c := src[i]
		b.WriteByte(c)
		if c != '.' || i == 0 || !isDigit(src[i-1]) {
			continue
		}
		// Only a dot that ends a numeric literal gets a zero.
		j := i - 1
		for j >= 0 && isDigit(src[j]) {
			j--
		}
		if j >= 0 && (isLetter(src[j]) || src[j] == '.') {
			continue
		}
		if i+1 < len(src) && (isDigit(src[i+1]) || isLetter(src[i+1])) && !isExponent(src[i+1:]) {
			continue
		}
		b.WriteByte('0')
	}
	return b.String()
}

// isExponent reports whether s starts with an exponent suffix such as "e-3".
func isExponent(s string) bool {
	if len(s) < 2 || (s[0] != 'e' && s[0] != 'E') {
		return false
	}
	if s[1] == '+' || s[1] == '-' {
		return len(s) > 2 && isDigit(s[2])
	}
	return isDigit(s[1])
}

// replaceName replaces old with repl wherever it stands as a whole name,
// not as part of a longer identifier or traversal.
func replaceName(src, old, repl string) string {
	var b strings.Builder
	for {
		k := strings.Index(src, old)
		if k < 0 {
			b.WriteString(src)
			return b.String()
		}
		end := k + len(old)
		before := k > 0 && (isLetter(src[k-1]) || isDigit(src[k-1]) || src[k-1] == '.')
		after := end < len(src) && (isLetter(src[end]) || isDigit(src[end]))
		b.WriteString(src[:k])
		if before || after {
			b.WriteString(old)
		} else {
			b.WriteString(repl)
		}
		src = src[end:]
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Parse normalizes and parses src as an HCL native-syntax expression.
func Parse(src string) (hclsyntax.Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e, diags := hclsyntax.ParseExpression([]byte(Normalize(src)), "<expr>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w in %q: %s", ErrSyntax, src, diags.Error())
	}
	return e, nil
}

// Compile parses src and resolves it against r.
func Compile(src string, r Resolver) (*Expr, error) {
	syn, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{resolver: r, funcs: Builtins}
	root, err := c.compile(syn)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	return &Expr{Source: strings.TrimSpace(src), Root: root}, nil
}

// CompileAs compiles src and checks that its static type is want.
func CompileAs(src string, want Type, r Resolver) (*Expr, error) {
	e, err := Compile(src, r)
	if err != nil {
		return nil, err
	}
	if e.Type() != want {
		return nil, fmt.Errorf("expression %q: %w: got %s, want %s", src, ErrType, e.Type(), want)
	}
	return e, nil
}

type compiler struct {
	resolver Resolver
	funcs    *Registry
}

func (c *compiler) compile(e hclsyntax.Expression) (Node, error) {
	switch x := e.(type) {
	case *hclsyntax.LiteralValueExpr:
		return literal(x.Val)

	case *hclsyntax.ParenthesesExpr:
		return c.compile(x.Expression)

	case *hclsyntax.ScopeTraversalExpr:
		path, err := traversalPath(x.Traversal)
		if err != nil {
			return nil, err
		}
		sym, err := c.resolver.Resolve(path)
		if err != nil {
			return nil, err
		}
		return Ref{Sym: sym}, nil

	case *hclsyntax.UnaryOpExpr:
		op, ok := operators[x.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unary operator", ErrUnsupported)
		}
		v, err := c.compile(x.Val)
		if err != nil {
			return nil, err
		}
		if op == OpNeg {
			if v.Type() != Number {
				return nil, fmt.Errorf("%w: cannot negate %s", ErrType, v.Type())
			}
			if k, ok := v.(Const); ok {
				return Const{Value: -k.Value}, nil
			}
		} else if v.Type() != Bool {
			return nil, fmt.Errorf("%w: ! needs bool, got %s", ErrType, v.Type())
		}
		return Unary{Op: op, X: v}, nil

	case *hclsyntax.BinaryOpExpr:
		op, ok := operators[x.Op]
		if !ok {
			return nil, fmt.Errorf("%w: binary operator", ErrUnsupported)
		}
		l, err := c.compile(x.LHS)
		if err != nil {
			return nil, err
		}
		r, err := c.compile(x.RHS)
		if err != nil {
			return nil, err
		}
		if err := checkBinary(op, l, r); err != nil {
			return nil, err
		}
		return Binary{Op: op, L: l, R: r}, nil

	case *hclsyntax.ConditionalExpr:
		cond, err := c.compile(x.Condition)
		if err != nil {
			return nil, err
		}
		if cond.Type() != Bool {
			return nil, fmt.Errorf("%w: condition must be bool, got %s", ErrType, cond.Type())
		}
		then, err := c.compile(x.TrueResult)
		if err != nil {
			return nil, err
		}
		els, err := c.compile(x.FalseResult)
		if err != nil {
			return nil, err
		}
		if then.Type() != els.Type() {
			return nil, fmt.Errorf("%w: branches are %s and %s", ErrType, then.Type(), els.Type())
		}
		return Cond{If: cond, Then: then, Else: els}, nil

	case *hclsyntax.FunctionCallExpr:
		fn, ok := c.funcs.Lookup(x.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, x.Name)
		}
		if x.ExpandFinal {
			return nil, fmt.Errorf("%w: argument expansion in %s()", ErrUnsupported, x.Name)
		}
		if len(x.Args) != fn.Arity {
			return nil, fmt.Errorf("%w: %s() takes %d, got %d", ErrArity, fn.Name, fn.Arity, len(x.Args))
		}
		args := make([]Node, len(x.Args))
		for i, a := range x.Args {
			n, err := c.compile(a)
			if err != nil {
				return nil, err
			}
			if n.Type() != Number {
				return nil, fmt.Errorf("%w: argument %d of %s() must be a number", ErrType, i+1, fn.Name)
			}
			args[i] = n
		}
		return Call{Func: fn, Args: args}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, e)
}

func checkBinary(op Op, l, r Node) error {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLt, OpLe, OpGt, OpGe:
		if l.Type() != Number || r.Type() != Number {
			return fmt.Errorf("%w: %s needs numbers", ErrType, op)
		}
	case OpAnd, OpOr:
		if l.Type() != Bool || r.Type() != Bool {
			return fmt.Errorf("%w: %s needs bools", ErrType, op)
		}
	case OpEq, OpNe:
		if l.Type() != r.Type() {
			return fmt.Errorf("%w: cannot compare %s with %s", ErrType, l.Type(), r.Type())
		}
	}
	return nil
}

func literal(v cty.Value) (Node, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("%w: null literal", ErrUnsupported)
	}
	switch v.Type() {
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return Const{Value: f}, nil
	case cty.Bool:
		return BoolConst{Value: v.True()}, nil
	}
	return nil, fmt.Errorf("%w: %s literal", ErrUnsupported, v.Type().FriendlyName())
}

func traversalPath(t hcl.Traversal) ([]string, error) {
	path := make([]string, 0, len(t))
	for _, step := range t {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			path = append(path, s.Name)
		case hcl.TraverseAttr:
			path = append(path, s.Name)
		default:
			return nil, fmt.Errorf("%w: indexing in %s", ErrUnsupported, strings.Join(path, "."))
		}
	}
	return path, nil
}

// References lists the dotted identifier paths used by src, in source order,
// without resolving them.
func References(src string) ([][]string, error) {
	syn, err := Parse(src)
	if err != nil {
		return nil, err
	}
	var out [][]string
	seen := make(map[string]bool)
	for _, t := range syn.Variables() {
		p, err := traversalPath(t)
		if err != nil {
			return nil, err
		}
		key := strings.Join(p, ".")
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}
	return out, nil
}
