package codegen

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/params"
)

func liquidGol(t *testing.T) *model.Model {
	t.Helper()
	m := model.New("liquid_gol")
	_, err := m.AddAgent(model.AgentSpec{Name: "Cell", Properties: []string{"age", "CC_length"}, Count: 1,
		Initial: map[string]string{"CC_length": "normal(3, 0.25)", "age": "uniform(0, CC_length)"}})
	require.NoError(t, err)
	_, err = m.AddAgent(model.AgentSpec{Name: "Medium", Unique: true, Properties: []string{"IP"}})
	require.NoError(t, err)
	_, err = m.AddDeterministicEvent(model.DeterministicEventSpec{
		Name: "cell_division", Agent: "Cell", Kind: "creation",
		Parameters: model.P("CC_avg", 3.0, "CC_std", 0.25),
		Trigger:    "age > CC_length",
		Realization: []string{
			"new.age = age - CC_length",
			"age = new.age",
			"new.CC_length = ran.norm(CC_avg, CC_std)",
			"CC_length = ran.norm(CC_avg, CC_std)",
		},
	})
	require.NoError(t, err)
	_, err = m.AddStochasticEvent(model.StochasticEventSpec{
		Name: "cell_death", Agent: "Cell", Kind: "destruction",
		Parameters: model.P("IP_threshold", 1.0, "IP_death_rate_slope", 0.01, "CC_avg", 99.0),
		Propensity: "IP > IP_threshold ? IP * IP_death_rate_slope : 0.",
	})
	require.NoError(t, err)
	_, err = m.AddContinuousChange(model.ContinuousChangeSpec{Name: "cell_aging", Agent: "Cell", Property: "age", Rate: "1."})
	require.NoError(t, err)
	_, err = m.AddContinuousChange(model.ContinuousChangeSpec{Name: "IP_degradation", Agent: "Medium", Property: "IP",
		Parameters: model.P("IP_degradation_rate", 10.0), Rate: "- IP * IP_degradation_rate"})
	require.NoError(t, err)
	_, err = m.AddContinuousChange(model.ContinuousChangeSpec{Name: "IP_production", Agent: "Medium", Property: "IP",
		Source: "Cell", Parameters: model.P("IP_prod_rate", 0.01), Rate: "IP_prod_rate"})
	require.NoError(t, err)
	require.NoError(t, m.SetTerminalCondition("Cell.count >= 1000"))
	return m
}

func generate(t *testing.T, m *model.Model) map[string]string {
	t.Helper()
	files, err := Generate(m)
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Name] = string(f.Source)
	}
	return out
}

func parse(t *testing.T, name, src string) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), name, src, parser.ParseComments)
	require.NoError(t, err, "generated %s must be valid Go:\n%s", name, src)
	return f
}

func TestGenerate_ProducesValidGo(t *testing.T) {
	// --- Arrange ---
	m := liquidGol(t)

	// --- Act ---
	files := generate(t, m)

	// --- Assert ---
	require.Len(t, files, 5)
	for _, name := range []string{ParametersFile, ParameterValuesFile, AgentsFile, EventsFile, MainFile} {
		src, ok := files[name]
		require.True(t, ok, "missing %s", name)
		assert.True(t, strings.HasPrefix(src, "// "+Header), "%s must start with the generated-code header", name)
		f := parse(t, name, src)
		assert.Equal(t, "main", f.Name.Name)
	}
}

// simImporter type-checks pkg/sim from its sources and defers every other
// import to the standard library source importer.
type simImporter struct {
	fset *token.FileSet
	std  types.Importer
	sim  *types.Package
}

func (imp *simImporter) Import(path string) (*types.Package, error) {
	if path != simPkg {
		return imp.std.Import(path)
	}
	if imp.sim != nil {
		return imp.sim, nil
	}
	dir := filepath.Join("..", "..", "pkg", "sim")
	names, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return nil, err
	}
	var files []*ast.File
	for _, name := range names {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(imp.fset, name, nil, 0)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	conf := types.Config{Importer: imp.std}
	imp.sim, err = conf.Check(simPkg, imp.fset, files, nil)
	return imp.sim, err
}

func TestGenerate_TypeChecks(t *testing.T) {
	// --- Arrange ---
	files := generate(t, liquidGol(t))
	fset := token.NewFileSet()
	var parsed []*ast.File
	for _, name := range []string{ParametersFile, ParameterValuesFile, AgentsFile, EventsFile, MainFile} {
		f, err := parser.ParseFile(fset, name, files[name], 0)
		require.NoError(t, err)
		parsed = append(parsed, f)
	}
	imp := &simImporter{fset: fset, std: importer.ForCompiler(fset, "source", nil)}

	// --- Act ---
	var typeErrs []string
	conf := types.Config{Importer: imp, Error: func(err error) { typeErrs = append(typeErrs, err.Error()) }}
	_, err := conf.Check("main", fset, parsed, nil)

	// --- Assert ---
	require.Empty(t, typeErrs, "generated program must type-check")
	require.NoError(t, err)
}

// paramFields returns the field names of the Params struct in source order.
func paramFields(t *testing.T, src string) []string {
	t.Helper()
	var names []string
	ast.Inspect(parse(t, ParametersFile, src), func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok || ts.Name.Name != "Params" {
			return true
		}
		for _, f := range ts.Type.(*ast.StructType).Fields.List {
			for _, id := range f.Names {
				names = append(names, id.Name)
			}
		}
		return false
	})
	return names
}

// paramValues returns the keys and literal values of the params variable.
func paramValues(t *testing.T, src string) ([]string, []string) {
	t.Helper()
	var keys, values []string
	ast.Inspect(parse(t, ParameterValuesFile, src), func(n ast.Node) bool {
		lit, ok := n.(*ast.CompositeLit)
		if !ok {
			return true
		}
		for _, el := range lit.Elts {
			kv := el.(*ast.KeyValueExpr)
			keys = append(keys, kv.Key.(*ast.Ident).Name)
			values = append(values, literal(kv.Value))
		}
		return false
	})
	return keys, values
}

func literal(e ast.Expr) string {
	switch x := e.(type) {
	case *ast.Ident:
		return x.Name
	case *ast.BasicLit:
		return x.Value
	case *ast.ParenExpr:
		return literal(x.X)
	}
	return ""
}

func TestGenerate_ParameterArtifactsAlign(t *testing.T) {
	// --- Arrange ---
	m := liquidGol(t)

	// --- Act ---
	files := generate(t, m)
	fields := paramFields(t, files[ParametersFile])
	keys, values := paramValues(t, files[ParameterValuesFile])

	// --- Assert ---
	assert.Equal(t, params.Declare(m), fields)
	assert.Equal(t, fields, keys, "declaration and definition must list parameters in the same order")
	require.Len(t, values, len(keys))
	for i, k := range keys {
		if k == "CC_avg" {
			assert.Equal(t, "3.0", values[i], "the first declaration of CC_avg wins")
		}
	}
	assert.NotContains(t, files[ParameterValuesFile], "99")
}

func TestGenerate_Expressions(t *testing.T) {
	m := liquidGol(t)
	files := generate(t, m)

	agents := files[AgentsFile]
	assert.Contains(t, agents, "Agent_Cell")
	assert.Contains(t, agents, "Medium_IP")
	assert.Contains(t, agents, `"Medium"`)
	// CC_length is initialized before age, which reads it.
	init := agents[strings.Index(agents, "Init:"):]
	assert.Less(t, strings.Index(init, "s.Set(Cell_CC_length"), strings.Index(init, "s.Set(Cell_age"))

	events := files[EventsFile]
	for _, want := range []string{
		"s.Get(Cell_age) > s.Get(Cell_CC_length)",
		"s.Set(Cell_age, s.NewValue(Cell_age))",
		"s.Normal(params.CC_avg, params.CC_std)",
		"s.Unique(Agent_Medium, Medium_IP) > params.IP_threshold",
		"sim.Destruction",
		"s.Count(Agent_Cell) >= 1000.0",
	} {
		assert.Contains(t, events, want)
	}
	assert.Regexp(t, `s\.SetNew\(Cell_age, s\.Get\(Cell_age\) ?- ?s\.Get\(Cell_CC_length\)\)`, events)
	assert.Regexp(t, `Source:\s+Agent_Cell`, events)
	assert.Contains(t, files[MainFile], "sim.Run(")
	assert.Contains(t, files[MainFile], `"liquid_gol"`)
}

func TestGenerate_NegativeConstantsAndMod(t *testing.T) {
	m := model.New("neg")
	_, err := m.AddAgent(model.AgentSpec{Name: "A", Properties: []string{"x"}, Count: 1})
	require.NoError(t, err)
	_, err = m.AddStochasticEvent(model.StochasticEventSpec{Name: "e", Agent: "A", Kind: "mutation",
		Parameters: model.P("k", -2.0), Propensity: "1", Realization: []string{"x = x % 3 - k"}})
	require.NoError(t, err)

	files := generate(t, m)
	assert.Contains(t, files[ParameterValuesFile], "(-2.0)")
	assert.Contains(t, files[EventsFile], "math.Mod(s.Get(A_x), 3.0)")
	assert.NotContains(t, files[EventsFile], "terminal = func")
}

func TestGenerate_NameCollision(t *testing.T) {
	m := model.New("clash")
	_, err := m.AddAgent(model.AgentSpec{Name: "Agent", Properties: []string{"B"}})
	require.NoError(t, err)
	_, err = m.AddAgent(model.AgentSpec{Name: "B"})
	require.NoError(t, err)

	_, err = Generate(m)
	assert.ErrorIs(t, err, ErrNameCollision)
}

func TestWriteAllCode(t *testing.T) {
	t.Run("writes every file and overwrites old output", func(t *testing.T) {
		// --- Arrange ---
		dir := filepath.Join(t.TempDir(), "out", "nested")
		m := liquidGol(t)

		// --- Act ---
		require.NoError(t, WriteAllCode(context.Background(), m, dir))
		require.NoError(t, os.WriteFile(filepath.Join(dir, EventsFile), []byte("stale"), 0o644))
		require.NoError(t, WriteAllCode(context.Background(), m, dir))

		// --- Assert ---
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 5)
		data, err := os.ReadFile(filepath.Join(dir, EventsFile))
		require.NoError(t, err)
		assert.NotEqual(t, "stale", string(data))
	})

	t.Run("unwritable target", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		err := WriteAllCode(context.Background(), liquidGol(t), filepath.Join(file, "sub"))
		assert.Error(t, err)
	})

	t.Run("generation errors write nothing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		m := model.New("clash")
		_, err := m.AddAgent(model.AgentSpec{Name: "Agent", Properties: []string{"B"}})
		require.NoError(t, err)
		_, err = m.AddAgent(model.AgentSpec{Name: "B"})
		require.NoError(t, err)

		err = WriteAllCode(context.Background(), m, dir)
		require.ErrorIs(t, err, ErrNameCollision)
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})
}
