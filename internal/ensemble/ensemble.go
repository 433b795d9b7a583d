// Package ensemble runs many independent trajectories of one program on a
// pool of workers and summarizes their outcomes.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/vk/cellpop/internal/ctxlog"
	"github.com/vk/cellpop/pkg/sim"
)

var ErrInvalidOptions = errors.New("invalid ensemble options")

// Options configures an ensemble run.
type Options struct {
	// Trajectories is the number of runs; trajectory i uses seed BaseSeed+i.
	Trajectories int
	// Workers bounds the number of concurrent runs; zero means GOMAXPROCS.
	Workers  int
	BaseSeed uint64
	// Sim is the template for every run. Its Seed and Observer are replaced.
	Sim sim.Options
	// Observer, when set, returns the observer of trajectory i.
	Observer func(i int, seed uint64) sim.Observer
	// OnResult is called from the worker goroutines as trajectories finish.
	// It must be safe for concurrent use; an error aborts the ensemble.
	OnResult func(ctx context.Context, t Trajectory) error
}

// Trajectory is the outcome of one run of the ensemble.
type Trajectory struct {
	Index  int
	Seed   uint64
	Result *sim.Result
}

// Run executes the ensemble and returns the trajectories ordered by index.
// The first failing trajectory cancels the others and its error is
// returned.
func Run(ctx context.Context, prog *sim.Program, opts Options) ([]Trajectory, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.Trajectories <= 0 {
		return nil, fmt.Errorf("%w: %d trajectories", ErrInvalidOptions, opts.Trajectories)
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidOptions, opts.Workers)
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, opts.Trajectories)
	if err := prog.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		out      = make([]Trajectory, opts.Trajectories)
		work     = make(chan int)
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	logger.Debug("Starting ensemble.", "program", prog.Name, "trajectories", opts.Trajectories, "workers", workers)
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			workerLogger := logger.With("workerID", workerID)
			for i := range work {
				if ctx.Err() != nil {
					continue
				}
				t, err := runOne(ctx, prog, opts, i)
				if err != nil {
					workerLogger.Error("Trajectory failed.", "trajectory", i, "error", err)
					fail(fmt.Errorf("trajectory %d (seed %d): %w", i, t.Seed, err))
					continue
				}
				if opts.OnResult != nil {
					if err := opts.OnResult(ctx, t); err != nil {
						fail(fmt.Errorf("trajectory %d: %w", i, err))
						continue
					}
				}
				out[i] = t
				workerLogger.Debug("Trajectory finished.", "trajectory", i, "reason", t.Result.Reason, "t", t.Result.FinalTime)
			}
		}(id)
	}

feed:
	for i := 0; i < opts.Trajectories; i++ {
		select {
		case work <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("Ensemble finished.", "program", prog.Name, "trajectories", opts.Trajectories)
	return out, nil
}

func runOne(ctx context.Context, prog *sim.Program, opts Options, i int) (Trajectory, error) {
	t := Trajectory{Index: i, Seed: opts.BaseSeed + uint64(i)}
	so := opts.Sim
	so.Seed = t.Seed
	so.Observer = nil
	if opts.Observer != nil {
		so.Observer = opts.Observer(i, t.Seed)
	}
	res, err := sim.Run(ctx, prog, so)
	if err != nil {
		return t, err
	}
	t.Result = res
	return t, nil
}

// Summary aggregates the final states of an ensemble.
type Summary struct {
	Program      string                 `json:"program"`
	Trajectories int                    `json:"trajectories"`
	Reasons      map[sim.StopReason]int `json:"reasons"`
	Extinct      int                    `json:"extinct"`
	FinalTime    Stats                  `json:"final_time"`
	Populations  map[string]Stats       `json:"populations"`
	Events       map[string]Stats       `json:"events"`
}

// Stats are the sample mean and standard deviation of a quantity.
type Stats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

func stats(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) == 1 {
		return Stats{Mean: mean}
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return Stats{Mean: mean, Std: math.Sqrt(ss / float64(len(xs)-1))}
}

// Summarize aggregates trajectories produced by Run for prog.
func Summarize(prog *sim.Program, ts []Trajectory) Summary {
	s := Summary{
		Program:      prog.Name,
		Trajectories: len(ts),
		Reasons:      make(map[sim.StopReason]int),
		Populations:  make(map[string]Stats, len(prog.Agents)),
		Events:       make(map[string]Stats),
	}
	times := make([]float64, 0, len(ts))
	for _, t := range ts {
		s.Reasons[t.Result.Reason]++
		if t.Result.Reason == sim.ReasonExtinction {
			s.Extinct++
		}
		times = append(times, t.Result.FinalTime)
	}
	s.FinalTime = stats(times)

	for a, at := range prog.Agents {
		xs := make([]float64, len(ts))
		for i, t := range ts {
			xs[i] = float64(t.Result.Populations[a])
		}
		s.Populations[at.Name] = stats(xs)
	}

	names := make(map[string]bool)
	for _, r := range prog.Deterministic {
		names[r.Name] = true
	}
	for _, r := range prog.Stochastic {
		names[r.Name] = true
	}
	for name := range names {
		xs := make([]float64, len(ts))
		for i, t := range ts {
			xs[i] = float64(t.Result.Events[name])
		}
		s.Events[name] = stats(xs)
	}
	return s
}
