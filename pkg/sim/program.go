package sim

import "fmt"

// Kind is the effect of an event on the population.
type Kind int

const (
	// Creation adds a new instance of the event's agent type.
	Creation Kind = iota
	// Destruction removes the instance the event fired for.
	Destruction
	// Mutation only changes property values.
	Mutation
)

func (k Kind) String() string {
	switch k {
	case Creation:
		return "creation"
	case Destruction:
		return "destruction"
	default:
		return "mutation"
	}
}

// AgentType describes one kind of agent.
type AgentType struct {
	Name       string
	Unique     bool
	Properties []string
	// Count is the number of instances at time 0; unique agents always
	// start with exactly one.
	Count int
	// Init sets the initial property values of a new instance. It is called
	// with Self set to the instance; nil leaves every property at 0.
	Init func(s *Scope)
}

// DeterministicRule fires for every instance of Agent whose Trigger goes
// from false to true.
type DeterministicRule struct {
	Name    string
	Agent   int
	Kind    Kind
	Trigger func(s *Scope) bool
	// Realize applies the event. For creation events, s.New is the
	// newborn instance. May be nil.
	Realize func(s *Scope)
}

// StochasticRule fires for an instance of Agent with rate Propensity.
type StochasticRule struct {
	Name       string
	Agent      int
	Kind       Kind
	Propensity func(s *Scope) float64
	Realize    func(s *Scope)
}

// RateRule adds Rate to d(Agent.Property)/dt. When Source differs from
// Agent, Rate is evaluated for every Source instance and summed into the
// property of the unique Agent.
type RateRule struct {
	Name     string
	Agent    int
	Property int
	Source   int
	Rate     func(s *Scope) float64
}

// CrossPopulation reports whether the rule sums over another population.
func (r RateRule) CrossPopulation() bool { return r.Source != r.Agent }

// Program is a complete simulation model.
type Program struct {
	Name          string
	Agents        []AgentType
	Deterministic []DeterministicRule
	Stochastic    []StochasticRule
	Continuous    []RateRule
	// Terminal stops the run early when it returns true. It is evaluated
	// with no Self instance, so it can only read unique agents and counts.
	Terminal func(s *Scope) bool
}

// Validate checks that every rule refers to existing agents and properties.
func (p *Program) Validate() error {
	agent := func(rule string, i int) error {
		if i < 0 || i >= len(p.Agents) {
			return fmt.Errorf("%w: rule %s refers to agent %d of %d", ErrInvalidProgram, rule, i, len(p.Agents))
		}
		return nil
	}
	seen := make(map[string]bool)
	name := func(rule string) error {
		if rule == "" {
			return fmt.Errorf("%w: unnamed rule", ErrInvalidProgram)
		}
		if seen[rule] {
			return fmt.Errorf("%w: duplicate rule %s", ErrInvalidProgram, rule)
		}
		seen[rule] = true
		return nil
	}
	event := func(rule string, a int, kind Kind, hasFn bool) error {
		if err := name(rule); err != nil {
			return err
		}
		if err := agent(rule, a); err != nil {
			return err
		}
		if !hasFn {
			return fmt.Errorf("%w: rule %s has no trigger or propensity", ErrInvalidProgram, rule)
		}
		if kind == Creation && p.Agents[a].Unique {
			return fmt.Errorf("%w: rule %s creates unique agent %s", ErrUniqueViolation, rule, p.Agents[a].Name)
		}
		return nil
	}

	for _, r := range p.Deterministic {
		if err := event(r.Name, r.Agent, r.Kind, r.Trigger != nil); err != nil {
			return err
		}
	}
	for _, r := range p.Stochastic {
		if err := event(r.Name, r.Agent, r.Kind, r.Propensity != nil); err != nil {
			return err
		}
	}
	for _, r := range p.Continuous {
		if err := name(r.Name); err != nil {
			return err
		}
		if err := agent(r.Name, r.Agent); err != nil {
			return err
		}
		if err := agent(r.Name, r.Source); err != nil {
			return err
		}
		if r.Rate == nil {
			return fmt.Errorf("%w: rule %s has no rate", ErrInvalidProgram, r.Name)
		}
		if r.Property < 0 || r.Property >= len(p.Agents[r.Agent].Properties) {
			return fmt.Errorf("%w: rule %s targets property %d of %s", ErrInvalidProgram, r.Name, r.Property, p.Agents[r.Agent].Name)
		}
		if r.CrossPopulation() && !p.Agents[r.Agent].Unique {
			return fmt.Errorf("%w: rule %s sums %s into non-unique agent %s",
				ErrInvalidProgram, r.Name, p.Agents[r.Source].Name, p.Agents[r.Agent].Name)
		}
	}
	return nil
}

// AgentIndex returns the position of the named agent type.
func (p *Program) AgentIndex(name string) (int, bool) {
	for i, a := range p.Agents {
		if a.Name == name {
			return i, true
		}
	}
	return -1, false
}
