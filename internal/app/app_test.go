package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cellpop/internal/codegen"
	"github.com/vk/cellpop/internal/testutil"
	"github.com/vk/cellpop/pkg/sim"
)

const decayHCL = `
model = "decay"

agent "Cell" {
  properties = ["x"]
  count      = 20
}

stochastic_event "death" {
  agent      = "Cell"
  kind       = "destruction"
  parameters = { k = 1.0 }
  propensity = k
}
`

// setupAppTest creates an app for cfg with test defaults and captures its
// output and logs.
func setupAppTest(t *testing.T, cfg Config) (*App, *bytes.Buffer, *testutil.SafeBuffer) {
	t.Helper()
	if cfg.Step == 0 {
		cfg.Step = sim.DefaultStep
	}
	if cfg.StopTime == 0 {
		cfg.StopTime = 100
	}
	cfg.LogLevel = "debug"
	cfg.LogFormat = "text"

	valid, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	logs := &testutil.SafeBuffer{}
	testutil.DumpLogs(t, logs)
	return NewApp(out, logs, valid), out, logs
}

func decayModel(t *testing.T) string {
	t.Helper()
	dir := testutil.WriteFiles(t, map[string]string{"decay.hcl": decayHCL})
	return filepath.Join(dir, "decay.hcl")
}

func TestNewConfig(t *testing.T) {
	base := Config{Command: CommandRun, ModelPaths: []string{"m.hcl"}, Step: 0.01, StopTime: 10}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown command", func(c *Config) { c.Command = "simulate" }},
		{"missing model path", func(c *Config) { c.ModelPaths = nil }},
		{"generate without output", func(c *Config) { c.Command = CommandGenerate }},
		{"negative stop time", func(c *Config) { c.StopTime = -1 }},
		{"zero step", func(c *Config) { c.Step = 0 }},
		{"negative record interval", func(c *Config) { c.RecordEvery = -1 }},
		{"negative event limit", func(c *Config) { c.MaxEvents = -1 }},
		{"ensemble without trajectories", func(c *Config) { c.Command = CommandEnsemble }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
		{"sqlite without path", func(c *Config) { c.Store = "sqlite" }},
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"bad port", func(c *Config) { c.HealthcheckPort = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewConfig(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("runs needs no model", func(t *testing.T) {
		cfg, err := NewConfig(Config{Command: CommandRuns, Step: 0.01})
		require.NoError(t, err)
		assert.Equal(t, CommandRuns, cfg.Command)
	})
}

func TestApp_Generate(t *testing.T) {
	// --- Arrange ---
	outDir := filepath.Join(t.TempDir(), "gen")
	a, _, logs := setupAppTest(t, Config{Command: CommandGenerate, ModelPaths: []string{decayModel(t)}, OutputDir: outDir})

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	for _, name := range []string{codegen.ParametersFile, codegen.ParameterValuesFile, codegen.AgentsFile, codegen.EventsFile, codegen.MainFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
	assert.Contains(t, logs.String(), "Generated simulation program.")
}

func TestApp_RunWithSQLiteStoreAndPlot(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	png := filepath.Join(dir, "decay.png")
	a, out, _ := setupAppTest(t, Config{
		Command: CommandRun, ModelPaths: []string{decayModel(t)},
		Seed: 7, RecordEvery: 0.5, Store: "sqlite", DBPath: db, PlotPath: png,
	})

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	var got RunOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.NotNil(t, got.Result)
	assert.Equal(t, "decay", got.Result.Program)
	assert.Equal(t, uint64(7), got.Result.Seed)
	assert.Equal(t, sim.ReasonExtinction, got.Result.Reason)
	assert.Equal(t, int64(20), got.Result.Events["death"])
	assert.FileExists(t, png)

	// The run is listed by a later invocation against the same database.
	lister, listed, _ := setupAppTest(t, Config{Command: CommandRuns, ModelPaths: []string{"decay"}, Store: "sqlite", DBPath: db})
	require.NoError(t, lister.Run(context.Background()))
	assert.Contains(t, listed.String(), got.ID)
	assert.Contains(t, listed.String(), "extinction")
}

func TestApp_Ensemble(t *testing.T) {
	// --- Arrange ---
	a, out, logs := setupAppTest(t, Config{
		Command: CommandEnsemble, ModelPaths: []string{decayModel(t)},
		Trajectories: 6, Workers: 3, Seed: 1, PlotPath: filepath.Join(t.TempDir(), "e.png"), RecordEvery: 1,
	})

	// --- Act ---
	err := a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	var got EnsembleOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got.Batch)
	assert.Equal(t, 6, got.Summary.Trajectories)
	assert.Equal(t, 6, got.Summary.Extinct)
	assert.Equal(t, 0.0, got.Summary.Populations["Cell"].Mean)
	assert.Equal(t, 20.0, got.Summary.Events["death"].Mean)
	assert.Contains(t, logs.String(), "trajectory=5")
}

func TestApp_Inspect(t *testing.T) {
	a, out, _ := setupAppTest(t, Config{Command: CommandInspect, ModelPaths: []string{decayModel(t)}})

	require.NoError(t, a.Run(context.Background()))

	s := out.String()
	assert.Regexp(t, `model\s+decay`, s)
	assert.Regexp(t, `agent\s+Cell\s+count 20\s+x`, s)
	assert.Regexp(t, `stochastic\s+death\s+Cell\s+destruction at k`, s)
	assert.Regexp(t, `parameter\s+k\s+1`, s)
}

func TestApp_Errors(t *testing.T) {
	t.Run("missing model", func(t *testing.T) {
		a, _, _ := setupAppTest(t, Config{Command: CommandRun, ModelPaths: []string{filepath.Join(t.TempDir(), "nope.hcl")}})
		err := a.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load model")
	})

	t.Run("unknown plot agent", func(t *testing.T) {
		a, _, _ := setupAppTest(t, Config{Command: CommandRun, ModelPaths: []string{decayModel(t)},
			PlotPath: filepath.Join(t.TempDir(), "p.png"), PlotAgent: "Ghost"})
		err := a.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Ghost")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a, _, _ := setupAppTest(t, Config{Command: CommandEnsemble, ModelPaths: []string{decayModel(t)}, Trajectories: 4})
		assert.Error(t, a.Run(ctx))
	})
}

func TestApp_HealthHandlers(t *testing.T) {
	// --- Arrange ---
	a, _, _ := setupAppTest(t, Config{Command: CommandRuns})

	// --- Act ---
	health := httptest.NewRecorder()
	a.healthHandler(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	before := httptest.NewRecorder()
	a.readyHandler(before, httptest.NewRequest(http.MethodGet, "/ready", nil))
	a.ready.Store(true)
	after := httptest.NewRecorder()
	a.readyHandler(after, httptest.NewRequest(http.MethodGet, "/ready", nil))

	// --- Assert ---
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "OK\n", health.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, before.Code)
	assert.Equal(t, http.StatusOK, after.Code)
}

func TestApp_HealthcheckDisabled(t *testing.T) {
	a, _, _ := setupAppTest(t, Config{Command: CommandRuns})
	a.healthCheckServer()
	assert.Nil(t, a.httpServer)
	assert.NoError(t, a.closeHealthCheckServer())
}

func TestNewLogger(t *testing.T) {
	t.Run("level filters records", func(t *testing.T) {
		buf := &testutil.SafeBuffer{}
		logger := newLogger("warn", "json", buf)
		logger.Info("hidden")
		logger.Warn("shown", "k", 1)

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"msg":"shown"`)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		buf := &testutil.SafeBuffer{}
		logger := newLogger("loud", "text", buf)
		logger.Debug("hidden")
		logger.Info("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
	})
}
