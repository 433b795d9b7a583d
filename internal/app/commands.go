package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/vk/cellpop/internal/codegen"
	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/internal/ensemble"
	"github.com/vk/cellpop/internal/model"
	"github.com/vk/cellpop/internal/observe"
	"github.com/vk/cellpop/internal/params"
	"github.com/vk/cellpop/internal/plot"
	"github.com/vk/cellpop/internal/program"
	"github.com/vk/cellpop/internal/store"
	"github.com/vk/cellpop/pkg/sim"
)

// RunOutput is what the run command prints.
type RunOutput struct {
	ID     string      `json:"id"`
	Result *sim.Result `json:"result"`
}

// EnsembleOutput is what the ensemble command prints.
type EnsembleOutput struct {
	Batch   string           `json:"batch"`
	Summary ensemble.Summary `json:"summary"`
}

func (a *App) generate(ctx context.Context, m *model.Model) error {
	warnShadowed(ctx, m)
	return codegen.WriteAllCode(ctx, m, a.config.OutputDir)
}

func (a *App) simOptions(obs sim.Observer) sim.Options {
	return sim.Options{
		StopTime:    a.config.StopTime,
		Seed:        a.config.Seed,
		Step:        a.config.Step,
		RecordEvery: a.config.RecordEvery,
		MaxEvents:   a.config.MaxEvents,
		Observer:    obs,
	}
}

func (a *App) simulate(ctx context.Context, m *model.Model) error {
	logger := ctxlog.FromContext(ctx)
	prog, err := program.Lower(m)
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	pub, err := a.dialPublisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	id := store.NewBatchID()
	obs := observe.Log(nil, prog)
	if pub != nil {
		obs = observe.Tee(obs, pub.Observer(id, prog))
	}

	logger.Info("🚀 Starting simulation...", "seed", a.config.Seed, "stop", a.config.StopTime)
	res, err := sim.Run(ctx, prog, a.simOptions(obs))
	if err != nil {
		return err
	}
	logger.Info("🏁 Simulation finished.", "reason", res.Reason, "time", res.FinalTime, "events", res.TotalEvents)

	rec := store.NewRun("", res)
	rec.ID = id
	if err := st.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	if pub != nil {
		if err := pub.PublishResult(id, prog, res); err != nil {
			return err
		}
	}
	if err := a.plotRun(ctx, prog, res.Snapshots); err != nil {
		return err
	}
	return a.printJSON(RunOutput{ID: id, Result: res})
}

func (a *App) ensemble(ctx context.Context, m *model.Model) error {
	logger := ctxlog.FromContext(ctx)
	prog, err := program.Lower(m)
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	pub, err := a.dialPublisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	batch := store.NewBatchID()
	opts := ensemble.Options{
		Trajectories: a.config.Trajectories,
		Workers:      a.config.Workers,
		BaseSeed:     a.config.Seed,
		Sim:          a.simOptions(nil),
		Observer: func(i int, seed uint64) sim.Observer {
			obs := observe.Log(logger.With("trajectory", i, "seed", seed), prog)
			if pub != nil {
				obs = observe.Tee(obs, pub.Observer(fmt.Sprintf("%s/%d", batch, i), prog))
			}
			return obs
		},
		OnResult: func(ctx context.Context, t ensemble.Trajectory) error {
			if err := st.SaveRun(ctx, store.NewRun(batch, t.Result)); err != nil {
				return fmt.Errorf("saving trajectory %d: %w", t.Index, err)
			}
			if pub != nil {
				return pub.PublishResult(fmt.Sprintf("%s/%d", batch, t.Index), prog, t.Result)
			}
			return nil
		},
	}

	logger.Info("🚀 Starting ensemble...", "batch", batch, "trajectories", opts.Trajectories, "workers", opts.Workers)
	ts, err := ensemble.Run(ctx, prog, opts)
	if err != nil {
		return err
	}
	summary := ensemble.Summarize(prog, ts)
	logger.Info("🏁 Ensemble finished.", "batch", batch, "extinct", summary.Extinct)

	if a.config.PlotPath != "" {
		var lines []plot.Line
		for _, t := range ts {
			for _, l := range plot.Populations(prog, t.Result.Snapshots) {
				l.Name = fmt.Sprintf("%s #%d", l.Name, t.Index)
				lines = append(lines, l)
			}
		}
		if err := plot.WriteFile(a.config.PlotPath, prog.Name+" ensemble", lines); err != nil {
			return err
		}
		logger.Info("Plot written.", "path", a.config.PlotPath)
	}
	return a.printJSON(EnsembleOutput{Batch: batch, Summary: summary})
}

func (a *App) inspect(ctx context.Context, m *model.Model) error {
	warnShadowed(ctx, m)
	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "model\t%s\n", m.Name)
	for _, ag := range m.Agents() {
		count := fmt.Sprintf("count %d", ag.InitialCount())
		if ag.Unique {
			count = "unique"
		}
		fmt.Fprintf(tw, "agent\t%s\t%s\t%s\n", ag.Name, count, strings.Join(ag.Properties, ", "))
	}
	for _, e := range m.DeterministicEvents() {
		fmt.Fprintf(tw, "deterministic\t%s\t%s\t%s when %s\n", e.Name, e.Agent.Name, e.Kind, e.Trigger.Source)
	}
	for _, e := range m.StochasticEvents() {
		fmt.Fprintf(tw, "stochastic\t%s\t%s\t%s at %s\n", e.Name, e.Agent.Name, e.Kind, e.Propensity.Source)
	}
	for _, c := range m.ContinuousChanges() {
		fmt.Fprintf(tw, "continuous\t%s\t%s.%s\tfrom %s: %s\n", c.Name, c.Agent.Name, c.PropertyName, c.Source.Name, c.Rate.Source)
	}
	if t := m.TerminalCondition(); t != nil {
		fmt.Fprintf(tw, "terminal\t%s\n", t.Source)
	}
	for _, b := range params.Define(m) {
		fmt.Fprintf(tw, "parameter\t%s\t%g\n", b.Name, b.Value)
	}
	return tw.Flush()
}

func (a *App) listRuns(ctx context.Context) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var name string
	if len(a.config.ModelPaths) > 0 {
		name = a.config.ModelPaths[0]
	}
	runs, err := st.ListRuns(ctx, name)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROGRAM\tBATCH\tSEED\tREASON\tFINAL TIME\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%g\t%s\n", r.ID, r.Program, r.Batch, r.Seed, r.Reason, r.FinalTime,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(a.config.Store, a.config.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return st, nil
}

func (a *App) dialPublisher(ctx context.Context) (*observe.Publisher, error) {
	if a.config.ObserveURL == "" {
		return nil, nil
	}
	return observe.Dial(ctx, observe.PublisherConfig{
		URL:                a.config.ObserveURL,
		Namespace:          a.config.ObserveNamespace,
		InsecureSkipVerify: a.config.ObserveInsecure,
	})
}

func (a *App) plotRun(ctx context.Context, prog *sim.Program, snaps []sim.Snapshot) error {
	if a.config.PlotPath == "" {
		return nil
	}
	lines := plot.Populations(prog, snaps)
	if a.config.PlotAgent != "" {
		var err error
		if lines, err = plot.Means(prog, snaps, a.config.PlotAgent); err != nil {
			return err
		}
	}
	if err := plot.WriteFile(a.config.PlotPath, prog.Name, lines); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Plot written.", "path", a.config.PlotPath)
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func warnShadowed(ctx context.Context, m *model.Model) {
	for _, s := range params.Shadowed(m) {
		ctxlog.FromContext(ctx).Warn("Parameter redeclared; the first value is used.", "parameter", s)
	}
}
