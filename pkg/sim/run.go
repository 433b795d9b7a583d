package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// DefaultStep is the integration step used when Options.Step is unset.
	DefaultStep = 0.01
	// MaxCascade bounds the rounds of deterministic events fired at one
	// instant.
	MaxCascade = 1000

	bisectTolerance = 1e-9
	timeEpsilon     = 1e-12
	pcgStream       = 0x853c49e6748fea9b
	ctxCheckEvery   = 256
)

// StopReason tells why a run ended.
type StopReason string

const (
	ReasonStopTime   StopReason = "stop_time"
	ReasonExtinction StopReason = "extinction"
	ReasonTerminal   StopReason = "terminal"
	ReasonEventLimit StopReason = "event_limit"
)

// Options configures a single run.
type Options struct {
	StopTime float64
	Seed     uint64
	// Step is the maximum integration step. Defaults to DefaultStep.
	Step float64
	// RecordEvery is the snapshot interval. Zero records only the initial
	// and final states.
	RecordEvery float64
	// MaxEvents stops the run after that many fired events; zero means no
	// limit.
	MaxEvents int64
	Observer  Observer
}

// Observer receives snapshots while a run progresses. A returned error
// aborts the run.
type Observer interface {
	Observe(ctx context.Context, s Snapshot) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, s Snapshot) error

func (f ObserverFunc) Observe(ctx context.Context, s Snapshot) error { return f(ctx, s) }

// Snapshot is the population summary at one time point.
type Snapshot struct {
	Time        float64 `json:"time"`
	Populations []int   `json:"populations"`
	// Means holds, per agent type, the mean value of every property over
	// the live instances (0 for an empty population).
	Means [][]float64 `json:"means"`
}

// AgentState lists the property values of every live instance of an agent
// type at the end of a run.
type AgentState struct {
	Agent      string      `json:"agent"`
	Properties []string    `json:"properties"`
	Instances  [][]float64 `json:"instances"`
}

// Result is the outcome of one run.
type Result struct {
	Program     string           `json:"program"`
	Seed        uint64           `json:"seed"`
	FinalTime   float64          `json:"final_time"`
	Reason      StopReason       `json:"reason"`
	Events      map[string]int64 `json:"events"`
	TotalEvents int64            `json:"total_events"`
	Populations []int            `json:"populations"`
	Snapshots   []Snapshot       `json:"snapshots"`
	Final       []AgentState     `json:"final"`
}

// Run simulates prog from time 0 until opts.StopTime, extinction of every
// non-unique population, the terminal condition or the event limit,
// whichever comes first. Runs with the same program, options and seed are
// identical.
func Run(ctx context.Context, prog *Program, opts Options) (*Result, error) {
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	if opts.StopTime < 0 || math.IsNaN(opts.StopTime) {
		return nil, fmt.Errorf("%w: stop time %g", ErrInvalidProgram, opts.StopTime)
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}

	r := newRunner(prog, opts)
	if err := r.run(ctx); err != nil {
		return nil, fmt.Errorf("%s at t=%g: %w", prog.Name, r.w.Time, err)
	}
	return r.result(), nil
}

type firing struct {
	rule int
	inst *Instance
	a    float64
}

type runner struct {
	prog *Program
	opts Options
	w    *World
	ode  *odeSystem

	// counts holds deterministic rules first, then stochastic ones.
	counts []int64
	total  int64

	entries []firing
	pending []firing

	threshold  float64
	hazard     float64
	nextRecord float64
	snapshots  []Snapshot
	reason     StopReason
}

func newRunner(prog *Program, opts Options) *runner {
	rng := rand.New(rand.NewPCG(opts.Seed, pcgStream))
	w := newWorld(prog, rng)
	return &runner{
		prog:   prog,
		opts:   opts,
		w:      w,
		ode:    newODESystem(w),
		counts: make([]int64, len(prog.Deterministic)+len(prog.Stochastic)),
	}
}

func (r *runner) run(ctx context.Context) error {
	r.w.populate()
	if err := r.settle(); err != nil {
		return err
	}
	r.threshold = r.w.rng.ExpFloat64()
	if err := r.record(ctx); err != nil {
		return err
	}
	if r.opts.RecordEvery > 0 {
		r.nextRecord = r.opts.RecordEvery
	} else {
		r.nextRecord = math.Inf(1)
	}

	for iter := 0; ; iter++ {
		if iter%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if reason, done := r.finished(); done {
			r.reason = reason
			break
		}

		total, err := r.propensities()
		if err != nil {
			return err
		}
		r.ode.rebuild(r.w)
		if r.ode.empty() {
			err = r.jump(ctx, total)
		} else {
			err = r.hybridStep(total)
		}
		if err != nil {
			return err
		}
		if r.w.Time >= r.nextRecord-timeEpsilon {
			if err := r.record(ctx); err != nil {
				return err
			}
			r.nextRecord += r.opts.RecordEvery
		}
	}

	if last := r.snapshots[len(r.snapshots)-1]; r.w.Time-last.Time > timeEpsilon {
		return r.record(ctx)
	}
	return nil
}

func (r *runner) finished() (StopReason, bool) {
	if r.prog.Terminal != nil && r.prog.Terminal(&Scope{w: r.w}) {
		return ReasonTerminal, true
	}
	if r.w.extinct() {
		return ReasonExtinction, true
	}
	if r.w.Time >= r.opts.StopTime-timeEpsilon {
		r.w.Time = max(r.w.Time, r.opts.StopTime)
		return ReasonStopTime, true
	}
	if r.opts.MaxEvents > 0 && r.total >= r.opts.MaxEvents {
		return ReasonEventLimit, true
	}
	return "", false
}

// propensities evaluates every stochastic rule for every instance of its
// agent and returns the total.
func (r *runner) propensities() (float64, error) {
	r.entries = r.entries[:0]
	s := Scope{w: r.w}
	total := 0.0
	for i := range r.prog.Stochastic {
		rule := &r.prog.Stochastic[i]
		for _, inst := range r.w.pops[rule.Agent] {
			s.Self = inst
			a := rule.Propensity(&s)
			if a < 0 || math.IsNaN(a) || math.IsInf(a, 0) {
				return 0, fmt.Errorf("%w: %s evaluated to %g", ErrNegativePropensity, rule.Name, a)
			}
			if a > 0 {
				r.entries = append(r.entries, firing{rule: i, inst: inst, a: a})
				total += a
			}
		}
	}
	return total, nil
}

// jump advances a piecewise-constant state straight to the next stochastic
// event.
func (r *runner) jump(ctx context.Context, total float64) error {
	next := math.Inf(1)
	if total > 0 {
		next = r.w.Time + (r.threshold-r.hazard)/total
	}
	for r.nextRecord <= min(next, r.opts.StopTime) {
		r.w.Time = r.nextRecord
		if err := r.record(ctx); err != nil {
			return err
		}
		r.nextRecord += r.opts.RecordEvery
	}
	if next >= r.opts.StopTime {
		r.w.Time = r.opts.StopTime
		return nil
	}
	r.w.Time = next
	return r.fireStochastic(total)
}

// hybridStep integrates the continuous state for one step, stopping early at
// the next stochastic event or at the first deterministic trigger crossing.
func (r *runner) hybridStep(total float64) error {
	t := r.w.Time
	h := min(r.opts.Step, r.opts.StopTime-t, r.nextRecord-t)
	stochastic := false
	if total > 0 {
		if tau := (r.threshold - r.hazard) / total; tau <= h {
			h, stochastic = tau, true
		}
	}

	r.ode.begin()
	r.ode.advance(h)
	if !r.ode.finite() {
		return ErrDiverged
	}

	if r.armedTrigger() {
		lo, hi := 0.0, h
		for hi-lo > bisectTolerance {
			mid := (lo + hi) / 2
			r.ode.advance(mid)
			if r.armedTrigger() {
				hi = mid
			} else {
				lo = mid
			}
		}
		r.ode.advance(hi)
		r.w.Time = t + hi
		r.hazard += total * hi
		return r.settle()
	}

	r.w.Time = t + h
	r.hazard += total * h
	// No armed trigger holds, so this only re-arms triggers that went false
	// during the step.
	if err := r.settle(); err != nil {
		return err
	}
	if stochastic {
		total, err := r.propensities()
		if err != nil {
			return err
		}
		return r.fireStochastic(total)
	}
	return nil
}

// fireStochastic selects one stochastic event in proportion to the current
// propensities, applies it and draws the next threshold.
func (r *runner) fireStochastic(total float64) error {
	r.threshold = r.w.rng.ExpFloat64()
	r.hazard = 0
	if total <= 0 || len(r.entries) == 0 {
		return nil
	}

	u := r.w.rng.Float64() * total
	chosen := r.entries[len(r.entries)-1]
	acc := 0.0
	for _, e := range r.entries {
		acc += e.a
		if u < acc {
			chosen = e
			break
		}
	}

	rule := &r.prog.Stochastic[chosen.rule]
	r.fire(len(r.prog.Deterministic)+chosen.rule, rule.Agent, rule.Kind, chosen.inst, rule.Realize)
	r.w.compact()
	return r.settle()
}

func (r *runner) fire(counter, agent int, kind Kind, inst *Instance, realize func(*Scope)) {
	s := &Scope{w: r.w, Self: inst}
	if kind == Creation {
		s.New = r.w.spawn(agent)
	}
	if realize != nil {
		realize(s)
	}
	switch kind {
	case Creation:
		r.w.pops[agent] = append(r.w.pops[agent], s.New)
	case Destruction:
		inst.dead = true
	}
	r.counts[counter]++
	r.total++
}

// settle fires deterministic events until no trigger goes from false to
// true. Each round evaluates every trigger on the same state before applying
// any realization. A trigger that stays true does not fire again until it
// has been seen false.
func (r *runner) settle() error {
	if len(r.prog.Deterministic) == 0 {
		return nil
	}
	for range MaxCascade {
		if r.scan() == 0 {
			return nil
		}
		for _, p := range r.pending {
			if p.inst.dead {
				continue
			}
			rule := &r.prog.Deterministic[p.rule]
			r.fire(p.rule, rule.Agent, rule.Kind, p.inst, rule.Realize)
		}
		r.w.compact()
	}
	return fmt.Errorf("%w after %d rounds", ErrCascade, MaxCascade)
}

// scan evaluates every trigger, stores the value on the instance and collects
// the rising ones into r.pending.
func (r *runner) scan() int {
	r.pending = r.pending[:0]
	s := Scope{w: r.w}
	for i := range r.prog.Deterministic {
		rule := &r.prog.Deterministic[i]
		for _, inst := range r.w.pops[rule.Agent] {
			s.Self = inst
			on := rule.Trigger(&s)
			if on && !inst.held[i] {
				r.pending = append(r.pending, firing{rule: i, inst: inst})
			}
			inst.held[i] = on
		}
	}
	return len(r.pending)
}

// armedTrigger reports whether a trigger that was false at the last scan
// holds on the current state.
func (r *runner) armedTrigger() bool {
	s := Scope{w: r.w}
	for i := range r.prog.Deterministic {
		rule := &r.prog.Deterministic[i]
		for _, inst := range r.w.pops[rule.Agent] {
			if inst.held[i] {
				continue
			}
			s.Self = inst
			if rule.Trigger(&s) {
				return true
			}
		}
	}
	return false
}

func (r *runner) record(ctx context.Context) error {
	snap := r.snapshot()
	r.snapshots = append(r.snapshots, snap)
	if r.opts.Observer == nil {
		return nil
	}
	if err := r.opts.Observer.Observe(ctx, snap); err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	return nil
}

func (r *runner) snapshot() Snapshot {
	snap := Snapshot{
		Time:        r.w.Time,
		Populations: make([]int, len(r.prog.Agents)),
		Means:       make([][]float64, len(r.prog.Agents)),
	}
	for a, at := range r.prog.Agents {
		means := make([]float64, len(at.Properties))
		n := 0
		for _, inst := range r.w.pops[a] {
			if inst.dead {
				continue
			}
			n++
			for p, v := range inst.Props {
				means[p] += v
			}
		}
		if n > 0 {
			for p := range means {
				means[p] /= float64(n)
			}
		}
		snap.Populations[a] = n
		snap.Means[a] = means
	}
	return snap
}

func (r *runner) result() *Result {
	res := &Result{
		Program:     r.prog.Name,
		Seed:        r.opts.Seed,
		FinalTime:   r.w.Time,
		Reason:      r.reason,
		Events:      make(map[string]int64, len(r.counts)),
		TotalEvents: r.total,
		Populations: make([]int, len(r.prog.Agents)),
		Snapshots:   r.snapshots,
		Final:       make([]AgentState, len(r.prog.Agents)),
	}
	for i, rule := range r.prog.Deterministic {
		res.Events[rule.Name] = r.counts[i]
	}
	for i, rule := range r.prog.Stochastic {
		res.Events[rule.Name] = r.counts[len(r.prog.Deterministic)+i]
	}
	for a, at := range r.prog.Agents {
		state := AgentState{Agent: at.Name, Properties: at.Properties}
		for _, inst := range r.w.pops[a] {
			if !inst.dead {
				state.Instances = append(state.Instances, append([]float64(nil), inst.Props...))
			}
		}
		res.Populations[a] = len(state.Instances)
		res.Final[a] = state
	}
	return res
}
