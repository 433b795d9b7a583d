package expr

import (
	"fmt"
	"math"
	"sort"
)

// Function is a builtin callable from expressions. All arguments and results
// are numbers.
type Function struct {
	Name  string
	Arity int
	// Random functions draw from the trajectory's generator.
	Random bool
	Eval   func(f Frame, args []float64) float64
}

// Registry holds the functions an expression may call.
type Registry struct {
	funcs map[string]*Function
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

// Register adds fn to the registry. Registering a name twice is a programming
// error and panics.
func (r *Registry) Register(fn *Function) {
	if _, exists := r.funcs[fn.Name]; exists {
		panic(fmt.Sprintf("expr: function %q registered twice", fn.Name))
	}
	r.funcs[fn.Name] = fn
}

// Lookup finds a function by name.
func (r *Registry) Lookup(name string) (*Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists the registered function names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtins is the registry used by Compile.
var Builtins = newBuiltins()

func newBuiltins() *Registry {
	r := NewRegistry()
	unary := func(name string, fn func(float64) float64) {
		r.Register(&Function{Name: name, Arity: 1, Eval: func(_ Frame, a []float64) float64 { return fn(a[0]) }})
	}
	binary := func(name string, fn func(float64, float64) float64) {
		r.Register(&Function{Name: name, Arity: 2, Eval: func(_ Frame, a []float64) float64 { return fn(a[0], a[1]) }})
	}

	r.Register(&Function{Name: "normal", Arity: 2, Random: true,
		Eval: func(f Frame, a []float64) float64 { return f.Normal(a[0], a[1]) }})
	r.Register(&Function{Name: "uniform", Arity: 2, Random: true,
		Eval: func(f Frame, a []float64) float64 { return f.Uniform(a[0], a[1]) }})
	r.Register(&Function{Name: "exponential", Arity: 1, Random: true,
		Eval: func(f Frame, a []float64) float64 { return f.Exponential(a[0]) }})

	unary("exp", math.Exp)
	unary("log", math.Log)
	unary("sqrt", math.Sqrt)
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	binary("pow", math.Pow)
	binary("min", math.Min)
	binary("max", math.Max)
	return r
}
