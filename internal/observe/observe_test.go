package observe

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/internal/testutil"
	"github.com/vk/cellpop/pkg/sim"
)

func twoAgents() *sim.Program {
	return &sim.Program{
		Name: "pair",
		Agents: []sim.AgentType{
			{Name: "Cell", Properties: []string{"age"}, Count: 3},
			{Name: "Medium", Unique: true, Properties: []string{"IP"}},
		},
	}
}

type fakeEmitter struct {
	events []string
	frames []Frame
	err    error
}

func (f *fakeEmitter) Emit(ev string, args ...any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	f.frames = append(f.frames, args[0].(Frame))
	return nil
}

func TestLog_WritesPopulations(t *testing.T) {
	// --- Arrange ---
	buf := &testutil.SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := Log(nil, twoAgents())
	ctx := ctxlog.WithLogger(context.Background(), logger)

	// --- Act ---
	err := obs.Observe(ctx, sim.Snapshot{Time: 1.5, Populations: []int{3, 1}})

	// --- Assert ---
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Snapshot recorded.")
	assert.Contains(t, out, "time=1.5")
	assert.Contains(t, out, "Cell=3")
	assert.Contains(t, out, "Medium=1")
}

func TestTee(t *testing.T) {
	t.Run("nil observers are dropped", func(t *testing.T) {
		assert.Nil(t, Tee(nil, nil))

		only := sim.ObserverFunc(func(context.Context, sim.Snapshot) error { return nil })
		assert.NotNil(t, Tee(nil, only))
	})

	t.Run("every observer sees every snapshot", func(t *testing.T) {
		// --- Arrange ---
		var a, b []float64
		boom := errors.New("boom")
		obs := Tee(
			sim.ObserverFunc(func(_ context.Context, s sim.Snapshot) error { a = append(a, s.Time); return boom }),
			sim.ObserverFunc(func(_ context.Context, s sim.Snapshot) error { b = append(b, s.Time); return nil }),
		)

		// --- Act ---
		err := obs.Observe(context.Background(), sim.Snapshot{Time: 2})

		// --- Assert ---
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []float64{2}, a)
		assert.Equal(t, []float64{2}, b)
	})
}

func TestPublisher_Frames(t *testing.T) {
	// --- Arrange ---
	fake := &fakeEmitter{}
	p := &Publisher{emit: fake}
	prog := twoAgents()

	// --- Act ---
	require.NoError(t, p.Observer("run-1", prog).Observe(context.Background(),
		sim.Snapshot{Time: 0.5, Populations: []int{4, 1}}))
	require.NoError(t, p.PublishResult("run-1", prog,
		&sim.Result{FinalTime: 10, Reason: sim.ReasonStopTime, Populations: []int{7, 1}}))
	p.Close()

	// --- Assert ---
	assert.Equal(t, []string{SnapshotEvent, ResultEvent}, fake.events)
	assert.Equal(t, Frame{Run: "run-1", Program: "pair", Time: 0.5,
		Populations: map[string]int{"Cell": 4, "Medium": 1}}, fake.frames[0])
	assert.Equal(t, "stop_time", fake.frames[1].Reason)
	assert.Equal(t, 7, fake.frames[1].Populations["Cell"])
}

func TestPublisher_EmitFailureAbortsObserver(t *testing.T) {
	p := &Publisher{emit: &fakeEmitter{err: errors.New("closed")}}
	err := p.Observer("r", twoAgents()).Observe(context.Background(), sim.Snapshot{Populations: []int{1, 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publishing snapshot")
}

func TestDial_Failures(t *testing.T) {
	t.Run("url without host", func(t *testing.T) {
		_, err := Dial(context.Background(), PublisherConfig{URL: "snapshots"})
		assert.ErrorIs(t, err, ErrConnect)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Dial(ctx, PublisherConfig{URL: "http://127.0.0.1:1/socket.io/", ConnectTimeout: 2 * time.Second})
		assert.ErrorIs(t, err, ErrConnect)
	})
}
