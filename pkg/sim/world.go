package sim

import (
	"math/rand/v2"
)

// Instance is one live agent.
type Instance struct {
	ID    uint64
	Props []float64

	dead bool
	// held records, per deterministic rule, the trigger value seen at the
	// last evaluation. A rule fires for this instance only when its
	// trigger goes from false to true.
	held []bool
}

// World is the mutable state of one trajectory.
type World struct {
	Time float64

	prog   *Program
	pops   [][]*Instance
	nextID uint64
	rng    *rand.Rand
}

func newWorld(prog *Program, rng *rand.Rand) *World {
	return &World{prog: prog, pops: make([][]*Instance, len(prog.Agents)), rng: rng}
}

// populate creates the initial instances in agent declaration order.
func (w *World) populate() {
	for a, at := range w.prog.Agents {
		n := at.Count
		if at.Unique {
			n = 1
		}
		for range n {
			inst := w.spawn(a)
			if at.Init != nil {
				at.Init(&Scope{w: w, Self: inst})
			}
			w.pops[a] = append(w.pops[a], inst)
		}
	}
}

func (w *World) spawn(agent int) *Instance {
	w.nextID++
	return &Instance{
		ID:    w.nextID,
		Props: make([]float64, len(w.prog.Agents[agent].Properties)),
		held:  make([]bool, len(w.prog.Deterministic)),
	}
}

// Population returns the live instances of an agent type. The slice must
// not be modified.
func (w *World) Population(agent int) []*Instance { return w.pops[agent] }

// Size returns the number of live instances of an agent type.
func (w *World) Size(agent int) int {
	n := 0
	for _, inst := range w.pops[agent] {
		if !inst.dead {
			n++
		}
	}
	return n
}

// unique returns the single instance of a unique agent, or nil once it has
// been destroyed.
func (w *World) unique(agent int) *Instance {
	for _, inst := range w.pops[agent] {
		if !inst.dead {
			return inst
		}
	}
	return nil
}

// extinct reports whether every non-unique agent type has died out. A
// program with only unique agents never goes extinct.
func (w *World) extinct() bool {
	found := false
	for a, at := range w.prog.Agents {
		if at.Unique {
			continue
		}
		found = true
		if w.Size(a) > 0 {
			return false
		}
	}
	return found
}

// compact drops destroyed instances.
func (w *World) compact() {
	for a, pop := range w.pops {
		live := pop[:0]
		for _, inst := range pop {
			if !inst.dead {
				live = append(live, inst)
			}
		}
		clear(pop[len(live):])
		w.pops[a] = live
	}
}

// Scope is the evaluation context handed to rule closures: the instance the
// rule is evaluated for, the newborn of a creation event and the world.
type Scope struct {
	w    *World
	Self *Instance
	New  *Instance
}

func (s *Scope) Get(prop int) float64           { return s.Self.Props[prop] }
func (s *Scope) Set(prop int, v float64)        { s.Self.Props[prop] = v }
func (s *Scope) NewValue(prop int) float64      { return s.New.Props[prop] }
func (s *Scope) SetNew(prop int, v float64)     { s.New.Props[prop] = v }
func (s *Scope) Count(agent int) float64        { return float64(s.w.Size(agent)) }
func (s *Scope) Time() float64                  { return s.w.Time }
func (s *Scope) Uniform(lo, hi float64) float64 { return lo + (hi-lo)*s.w.rng.Float64() }

// Unique reads a property of a unique agent; a destroyed unique agent reads
// as 0.
func (s *Scope) Unique(agent, prop int) float64 {
	if u := s.w.unique(agent); u != nil {
		return u.Props[prop]
	}
	return 0
}

// SetUnique writes a property of a unique agent.
func (s *Scope) SetUnique(agent, prop int, v float64) {
	if u := s.w.unique(agent); u != nil {
		u.Props[prop] = v
	}
}

// Normal draws from a normal distribution.
func (s *Scope) Normal(mu, sigma float64) float64 { return mu + sigma*s.w.rng.NormFloat64() }

// Exponential draws from an exponential distribution with the given rate.
func (s *Scope) Exponential(rate float64) float64 { return s.w.rng.ExpFloat64() / rate }
