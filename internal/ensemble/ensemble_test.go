package ensemble

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cellpop/pkg/sim"
)

func deathProgram() *sim.Program {
	return &sim.Program{
		Name:   "death",
		Agents: []sim.AgentType{{Name: "Cell", Properties: []string{"x"}, Count: 1}},
		Stochastic: []sim.StochasticRule{{Name: "die", Agent: 0, Kind: sim.Destruction,
			Propensity: func(*sim.Scope) float64 { return 1 }}},
	}
}

func TestRun_SeedsAndOrder(t *testing.T) {
	// --- Arrange ---
	prog := deathProgram()
	opts := Options{Trajectories: 50, Workers: 4, BaseSeed: 100, Sim: sim.Options{StopTime: 1000}}

	// --- Act ---
	ts, err := Run(context.Background(), prog, opts)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, ts, 50)
	for i, tr := range ts {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, uint64(100+i), tr.Seed)
		require.NotNil(t, tr.Result)

		// Each trajectory is the single run with the same seed.
		single, err := sim.Run(context.Background(), prog, sim.Options{StopTime: 1000, Seed: tr.Seed})
		require.NoError(t, err)
		assert.Equal(t, single.FinalTime, tr.Result.FinalTime)
	}
}

func TestRun_IndependentOfWorkerCount(t *testing.T) {
	prog := deathProgram()
	finals := func(workers int) []float64 {
		ts, err := Run(context.Background(), prog, Options{Trajectories: 20, Workers: workers, Sim: sim.Options{StopTime: 1000}})
		require.NoError(t, err)
		out := make([]float64, len(ts))
		for i, tr := range ts {
			out[i] = tr.Result.FinalTime
		}
		return out
	}

	if diff := cmp.Diff(finals(1), finals(8)); diff != "" {
		t.Errorf("ensemble depends on the worker count (-1 worker +8 workers):\n%s", diff)
	}
}

func TestRun_ObserverAndOnResult(t *testing.T) {
	// --- Arrange ---
	var snapshots, results atomic.Int64
	opts := Options{
		Trajectories: 10,
		Workers:      3,
		Sim:          sim.Options{StopTime: 1000},
		Observer: func(int, uint64) sim.Observer {
			return sim.ObserverFunc(func(context.Context, sim.Snapshot) error {
				snapshots.Add(1)
				return nil
			})
		},
		OnResult: func(context.Context, Trajectory) error {
			results.Add(1)
			return nil
		},
	}

	// --- Act ---
	_, err := Run(context.Background(), deathProgram(), opts)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, int64(10), results.Load())
	assert.Equal(t, int64(20), snapshots.Load(), "an initial and a final snapshot per trajectory")
}

func TestRun_FirstFailureCancels(t *testing.T) {
	boom := errors.New("boom")
	opts := Options{
		Trajectories: 100,
		Workers:      2,
		Sim:          sim.Options{StopTime: 1000},
		OnResult: func(_ context.Context, tr Trajectory) error {
			if tr.Index == 3 {
				return boom
			}
			return nil
		},
	}

	ts, err := Run(context.Background(), deathProgram(), opts)

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "trajectory 3")
	assert.Nil(t, ts)
}

func TestRun_InvalidOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"no trajectories", Options{}, ErrInvalidOptions},
		{"negative workers", Options{Trajectories: 1, Workers: -1}, ErrInvalidOptions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run(context.Background(), deathProgram(), tc.opts)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("invalid program", func(t *testing.T) {
		prog := &sim.Program{Name: "bad", Stochastic: []sim.StochasticRule{{Name: "x", Agent: 3}}}
		_, err := Run(context.Background(), prog, Options{Trajectories: 1})
		assert.ErrorIs(t, err, sim.ErrInvalidProgram)
	})
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, deathProgram(), Options{Trajectories: 5, Sim: sim.Options{StopTime: 1000}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	// --- Arrange ---
	prog := deathProgram()
	ts, err := Run(context.Background(), prog, Options{Trajectories: 400, Sim: sim.Options{StopTime: 1000}})
	require.NoError(t, err)

	// --- Act ---
	s := Summarize(prog, ts)

	// --- Assert ---
	assert.Equal(t, 400, s.Trajectories)
	assert.Equal(t, 400, s.Extinct)
	assert.Equal(t, map[sim.StopReason]int{sim.ReasonExtinction: 400}, s.Reasons)
	assert.InDelta(t, 1.0, s.FinalTime.Mean, 0.15)
	assert.InDelta(t, 1.0, s.FinalTime.Std, 0.2)
	assert.Equal(t, Stats{Mean: 0, Std: 0}, s.Populations["Cell"])
	assert.Equal(t, Stats{Mean: 1, Std: 0}, s.Events["die"])
}

func TestStats(t *testing.T) {
	assert.Equal(t, Stats{}, stats(nil))
	assert.Equal(t, Stats{Mean: 2}, stats([]float64{2}))
	got := stats([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, got.Mean, 1e-12)
	assert.InDelta(t, 1.2909944487, got.Std, 1e-9)
}
