package sim

import "math"

// term is one evaluation of a rate rule: rule evaluated for src, added to
// the derivative of slot.
type term struct {
	rule int
	src  *Instance
	slot int
}

// odeSystem is the set of continuously changing properties of the current
// population. It is rebuilt whenever the population may have changed.
type odeSystem struct {
	rules []RateRule
	slots []*float64
	index map[*float64]int
	terms []term
	scope Scope

	y0, y, k1, k2, k3, k4 []float64
}

func newODESystem(w *World) *odeSystem {
	return &odeSystem{rules: w.prog.Continuous, index: make(map[*float64]int), scope: Scope{w: w}}
}

// rebuild collects the slots and terms for the live population.
func (o *odeSystem) rebuild(w *World) {
	o.slots = o.slots[:0]
	o.terms = o.terms[:0]
	clear(o.index)

	for ri, rule := range o.rules {
		if !rule.CrossPopulation() {
			for _, inst := range w.pops[rule.Agent] {
				o.terms = append(o.terms, term{rule: ri, src: inst, slot: o.slot(&inst.Props[rule.Property])})
			}
			continue
		}
		target := w.unique(rule.Agent)
		if target == nil {
			continue
		}
		slot := o.slot(&target.Props[rule.Property])
		for _, inst := range w.pops[rule.Source] {
			o.terms = append(o.terms, term{rule: ri, src: inst, slot: slot})
		}
	}

	n := len(o.slots)
	for _, buf := range []*[]float64{&o.y0, &o.y, &o.k1, &o.k2, &o.k3, &o.k4} {
		if cap(*buf) < n {
			*buf = make([]float64, n)
		}
		*buf = (*buf)[:n]
	}
}

func (o *odeSystem) slot(p *float64) int {
	if i, ok := o.index[p]; ok {
		return i
	}
	o.index[p] = len(o.slots)
	o.slots = append(o.slots, p)
	return len(o.slots) - 1
}

func (o *odeSystem) empty() bool { return len(o.terms) == 0 }

func (o *odeSystem) load(y []float64) {
	for i, p := range o.slots {
		*p = y[i]
	}
}

func (o *odeSystem) deriv(y, dy []float64) {
	o.load(y)
	clear(dy)
	for _, t := range o.terms {
		o.scope.Self = t.src
		dy[t.slot] += o.rules[t.rule].Rate(&o.scope)
	}
}

// begin records the current state as the start of a step.
func (o *odeSystem) begin() {
	for i, p := range o.slots {
		o.y0[i] = *p
	}
}

// advance sets the state to one classical Runge-Kutta step of size h from
// the state recorded by begin. It may be called repeatedly with different h.
func (o *odeSystem) advance(h float64) {
	n := len(o.y0)
	o.deriv(o.y0, o.k1)
	for i := range n {
		o.y[i] = o.y0[i] + h/2*o.k1[i]
	}
	o.deriv(o.y, o.k2)
	for i := range n {
		o.y[i] = o.y0[i] + h/2*o.k2[i]
	}
	o.deriv(o.y, o.k3)
	for i := range n {
		o.y[i] = o.y0[i] + h*o.k3[i]
	}
	o.deriv(o.y, o.k4)
	for i := range n {
		o.y[i] = o.y0[i] + h/6*(o.k1[i]+2*o.k2[i]+2*o.k3[i]+o.k4[i])
	}
	o.load(o.y)
}

// finite reports whether every integrated value is a finite number.
func (o *odeSystem) finite() bool {
	for _, p := range o.slots {
		if math.IsNaN(*p) || math.IsInf(*p, 0) {
			return false
		}
	}
	return true
}
