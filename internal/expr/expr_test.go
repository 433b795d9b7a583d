package expr

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testScope resolves "age", "CC_length" (own properties), "IP" (unique
// Medium), parameters from params, and new.* for own properties.
type testScope struct {
	params map[string]float64
}

func (s testScope) Resolve(path []string) (Symbol, error) {
	own := map[string]int{"age": 0, "CC_length": 1}
	switch len(path) {
	case 1:
		if i, ok := own[path[0]]; ok {
			return Symbol{Kind: Property, Property: i, Name: path[0]}, nil
		}
		if _, ok := s.params[path[0]]; ok {
			return Symbol{Kind: Parameter, Name: path[0]}, nil
		}
		if path[0] == "IP" {
			return Symbol{Kind: UniqueProperty, Agent: 1, AgentName: "Medium", Name: "IP"}, nil
		}
	case 2:
		if path[0] == "new" {
			if i, ok := own[path[1]]; ok {
				return Symbol{Kind: NewProperty, Property: i, Name: path[1]}, nil
			}
		}
		if path[0] == "Medium" && path[1] == "IP" {
			return Symbol{Kind: UniqueProperty, Agent: 1, AgentName: "Medium", Name: "IP"}, nil
		}
		if path[0] == "Cell" && path[1] == "count" {
			return Symbol{Kind: Count, Agent: 0, AgentName: "Cell"}, nil
		}
	}
	return Symbol{}, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(path, "."))
}

func (s testScope) param(name string) (float64, bool) {
	v, ok := s.params[name]
	return v, ok
}

// testFrame is a fixed evaluation context with deterministic "random" draws.
type testFrame struct {
	props   []float64
	newborn []float64
	ip      float64
	count   float64
}

func (f *testFrame) Get(p int) float64                { return f.props[p] }
func (f *testFrame) Unique(_, _ int) float64          { return f.ip }
func (f *testFrame) NewValue(p int) float64           { return f.newborn[p] }
func (f *testFrame) Count(int) float64                { return f.count }
func (f *testFrame) Normal(mu, _ float64) float64     { return mu }
func (f *testFrame) Uniform(lo, hi float64) float64   { return (lo + hi) / 2 }
func (f *testFrame) Exponential(rate float64) float64 { return 1 / rate }

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"0.":                            "0.0",
		"IP > 1 ? IP * 0.01 : 0.":       "IP > 1 ? IP * 0.01 : 0.0",
		"1.":                            "1.0",
		"-1. * x":                       "-1.0 * x",
		"3.25":                          "3.25",
		"ran.norm ( CC_avg , CC_std ) ": "normal ( CC_avg , CC_std ) ",
		"Medium.IP":                     "Medium.IP",
		"Bax_act_m_2 + 2.":              "Bax_act_m_2 + 2.0",
		"x2.y":                          "x2.y",
		"1.e-3*ref_ku":                  "1.0e-3*ref_ku",
		"2.E+4 + 1.e5":                  "2.0E+4 + 1.0e5",
		"1.5e-3":                        "1.5e-3",
		"tran.norm + ran.norm(1, 2)":    "tran.norm + normal(1, 2)",
		"ran.normal":                    "ran.normal",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Normalize(in))
		})
	}
}

func TestCompile_Typing(t *testing.T) {
	scope := testScope{params: map[string]float64{"IP_threshold": 1, "slope": 0.01}}

	t.Run("numeric expressions", func(t *testing.T) {
		for _, src := range []string{
			"1.",
			"age + CC_length * 2",
			"IP > IP_threshold ? IP * slope : 0.",
			"normal(3.0, 0.25)",
			"-IP * slope",
			"max(age, 1) % 2",
			"Cell.count",
		} {
			e, err := Compile(src, scope)
			require.NoError(t, err, src)
			assert.Equal(t, Number, e.Type(), src)
		}
	})

	t.Run("boolean expressions", func(t *testing.T) {
		for _, src := range []string{
			"age > CC_length",
			"age > 1 && !(IP == 0)",
			"true",
			"age >= 1 ? true : false",
		} {
			e, err := Compile(src, scope)
			require.NoError(t, err, src)
			assert.Equal(t, Bool, e.Type(), src)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			src  string
			want error
		}{
			{"unknown_name + 1", ErrUnresolved},
			{"new.nope", ErrUnresolved},
			{"age +", ErrSyntax},
			{"", ErrSyntax},
			{"age && true", ErrType},
			{"age > 1 ? 1 : true", ErrType},
			{"1 ? 2 : 3", ErrType},
			{"frobnicate(1)", ErrUnknownFunction},
			{"normal(1)", ErrArity},
			{`"text"`, ErrUnsupported},
			{"[1, 2]", ErrUnsupported},
		}
		for _, tc := range cases {
			_, err := Compile(tc.src, scope)
			require.Error(t, err, tc.src)
			assert.ErrorIs(t, err, tc.want, tc.src)
		}
	})

	t.Run("CompileAs rejects the wrong type", func(t *testing.T) {
		_, err := CompileAs("age + 1", Bool, scope)
		assert.ErrorIs(t, err, ErrType)
	})
}

func TestLink_Evaluates(t *testing.T) {
	scope := testScope{params: map[string]float64{"IP_threshold": 1, "slope": 0.01}}
	frame := &testFrame{props: []float64{2, 3}, ip: 5, count: 7}

	num := func(src string) float64 {
		t.Helper()
		e, err := Compile(src, scope)
		require.NoError(t, err)
		fn, err := LinkNumber(e, scope.param)
		require.NoError(t, err)
		return fn(frame)
	}
	boolean := func(src string) bool {
		t.Helper()
		e, err := Compile(src, scope)
		require.NoError(t, err)
		fn, err := LinkBool(e, scope.param)
		require.NoError(t, err)
		return fn(frame)
	}

	assert.InDelta(t, 0.05, num("IP > IP_threshold ? IP * slope : 0."), 1e-12)
	assert.Equal(t, 8.0, num("age + CC_length * 2"))
	assert.InDelta(t, -0.05, num("- IP * slope"), 1e-12)
	assert.Equal(t, 3.0, num("normal(3.0, 0.25)"))
	assert.Equal(t, 2.5, num("uniform(age, CC_length)"))
	assert.Equal(t, 1.0, num("7 % 2"))
	assert.Equal(t, 7.0, num("Cell.count"))
	assert.InDelta(t, math.Sqrt(2), num("sqrt(age)"), 1e-12)
	assert.False(t, boolean("age > CC_length"))
	assert.True(t, boolean("age < CC_length && IP == 5"))
	assert.True(t, boolean("(age > 1) == true"))

	frame.ip = 0.5
	assert.Equal(t, 0.0, num("IP > IP_threshold ? IP * slope : 0."))
}

func TestLink_LazyConditional(t *testing.T) {
	// --- Arrange ---
	calls := 0
	reg := NewRegistry()
	reg.Register(&Function{Name: "count_calls", Arity: 0, Eval: func(Frame, []float64) float64 {
		calls++
		return 1
	}})
	c := &compiler{resolver: testScope{}, funcs: reg}
	syn, err := Parse("true ? 1 : count_calls()")
	require.NoError(t, err)
	root, err := c.compile(syn)
	require.NoError(t, err)

	// --- Act ---
	fn, err := LinkNumber(&Expr{Source: "x", Root: root}, nil)
	require.NoError(t, err)
	v := fn(&testFrame{})

	// --- Assert ---
	assert.Equal(t, 1.0, v)
	assert.Zero(t, calls, "the branch not taken must not be evaluated")
}

func TestLink_MissingParameterBinding(t *testing.T) {
	scope := testScope{params: map[string]float64{"k": 1}}
	e, err := Compile("k * age", scope)
	require.NoError(t, err)
	_, err = LinkNumber(e, func(string) (float64, bool) { return 0, false })
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestAssignments(t *testing.T) {
	scope := testScope{params: map[string]float64{"CC_avg": 3, "CC_std": 0.25}}

	t.Run("split skips comparison operators", func(t *testing.T) {
		lhs, rhs, ok := SplitAssignment("age = CC_length >= 1 ? 1 : 0")
		require.True(t, ok)
		assert.Equal(t, "age", lhs)
		assert.Equal(t, "CC_length >= 1 ? 1 : 0", rhs)

		_, _, ok = SplitAssignment("age == 1")
		assert.False(t, ok)
	})

	t.Run("statements run in order", func(t *testing.T) {
		// --- Arrange ---
		lines := []string{
			"new.age = age - CC_length",
			"age = new.age",
			"new.CC_length = ran.norm ( CC_avg , CC_std ) ",
			"CC_length = normal(CC_avg, CC_std)",
		}
		var stmts []*Assignment
		for _, l := range lines {
			a, err := CompileAssignment(l, scope)
			require.NoError(t, err, l)
			stmts = append(stmts, a)
		}
		frame := &testFrame{props: []float64{3.5, 3}, newborn: []float64{0, 0}}
		set := func(f Frame, target Symbol, v float64) {
			tf := f.(*testFrame)
			switch target.Kind {
			case Property:
				tf.props[target.Property] = v
			case NewProperty:
				tf.newborn[target.Property] = v
			}
		}

		// --- Act ---
		run, err := LinkAssignments(stmts, scope.param, set)
		require.NoError(t, err)
		run(frame)

		// --- Assert ---
		assert.Equal(t, []float64{0.5, 3}, frame.newborn)
		assert.Equal(t, []float64{0.5, 3}, frame.props)
	})

	t.Run("invalid statements", func(t *testing.T) {
		_, err := CompileAssignment("age + 1", scope)
		assert.ErrorIs(t, err, ErrSyntax)

		_, err = CompileAssignment("CC_avg = 1", scope)
		assert.ErrorIs(t, err, ErrNotAssignable)

		_, err = CompileAssignment("age = age > 1", scope)
		assert.ErrorIs(t, err, ErrType)

		_, err = CompileAssignment("ghost = 1", scope)
		assert.ErrorIs(t, err, ErrUnresolved)
	})
}

func TestReferences(t *testing.T) {
	refs, err := References("cPARP > death_cPARP_threshold && Env.TRAIL > 0 && cPARP > 1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"cPARP"}, {"death_cPARP_threshold"}, {"Env", "TRAIL"}}, refs)
}

func TestExprIntrospection(t *testing.T) {
	scope := testScope{params: map[string]float64{"CC_avg": 3, "CC_std": 0.25}}
	e, err := Compile("uniform(0, CC_length) + age + CC_length", scope)
	require.NoError(t, err)
	assert.True(t, e.IsRandom())

	syms := e.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, "CC_length", syms[0].Name)
	assert.Equal(t, "age", syms[1].Name)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&Function{Name: "f", Arity: 1})
	assert.Panics(t, func() { r.Register(&Function{Name: "f", Arity: 1}) })
	assert.Contains(t, Builtins.Names(), "normal")
}
