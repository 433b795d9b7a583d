package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level construct a model file may contain.
type fileRoot struct {
	Model  *string        `hcl:"model,optional"`
	Locals []*localsBlock `hcl:"locals,block"`

	Agents        []*agentBlock         `hcl:"agent,block"`
	Deterministic []*deterministicBlock `hcl:"deterministic_event,block"`
	Stochastic    []*stochasticBlock    `hcl:"stochastic_event,block"`
	Continuous    []*continuousBlock    `hcl:"continuous_change,block"`
	Terminal      []*terminalBlock      `hcl:"terminal_condition,block"`

	CellTypes      []*cellTypeBlock       `hcl:"cell_type,block"`
	Proteins       []*proteinBlock        `hcl:"fluctuating_protein,block"`
	Reactions      []*reactionBlock       `hcl:"reaction,block"`
	Reversible     []*reversibleBlock     `hcl:"reversible_reaction,block"`
	Catalytic      []*catalyticBlock      `hcl:"catalytic_reaction,block"`
	Degradation    []*degradationBlock    `hcl:"degradation,block"`
	EnvDegradation []*envDegradationBlock `hcl:"environment_degradation,block"`
	Death          []*deathBlock          `hcl:"death_rule,block"`
	Division       []*divisionBlock       `hcl:"division,block"`
}

// networkBlocks reports whether the file uses the reaction-network API.
func (r *fileRoot) networkBlocks() int {
	return len(r.CellTypes) + len(r.Proteins) + len(r.Reactions) + len(r.Reversible) +
		len(r.Catalytic) + len(r.Degradation) + len(r.EnvDegradation) + len(r.Death) + len(r.Division)
}

type localsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type agentBlock struct {
	Name       string         `hcl:"name,label"`
	Unique     bool           `hcl:"unique,optional"`
	Properties []string       `hcl:"properties,optional"`
	Count      int            `hcl:"count,optional"`
	Initial    hcl.Expression `hcl:"initial,optional"`
}

type deterministicBlock struct {
	Name        string         `hcl:"name,label"`
	Agent       string         `hcl:"agent"`
	Kind        string         `hcl:"kind"`
	Parameters  hcl.Expression `hcl:"parameters,optional"`
	Trigger     hcl.Expression `hcl:"trigger"`
	Realization []string       `hcl:"realization,optional"`
}

type stochasticBlock struct {
	Name        string         `hcl:"name,label"`
	Agent       string         `hcl:"agent"`
	Kind        string         `hcl:"kind"`
	Parameters  hcl.Expression `hcl:"parameters,optional"`
	Propensity  hcl.Expression `hcl:"propensity"`
	Realization []string       `hcl:"realization,optional"`
}

type continuousBlock struct {
	Name       string         `hcl:"name,label"`
	Agent      string         `hcl:"agent"`
	Property   string         `hcl:"property"`
	Source     string         `hcl:"source,optional"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
	Rate       hcl.Expression `hcl:"rate"`
}

type terminalBlock struct {
	When hcl.Expression `hcl:"when"`
}

type cellTypeBlock struct {
	Name   string `hcl:"name,label"`
	Unique bool   `hcl:"unique,optional"`
	Count  int    `hcl:"count,optional"`
	// Initial maps species to their copy number at time 0.
	Initial hcl.Expression `hcl:"initial,optional"`
}

type proteinBlock struct {
	CellType         string  `hcl:"cell_type,label"`
	Name             string  `hcl:"name,label"`
	Standard         bool    `hcl:"standard,optional"`
	EP               float64 `hcl:"EP"`
	DilutionHalfLife float64 `hcl:"dilution_half_life,optional"`
	HLP              float64 `hcl:"HLP,optional"`
	EM               float64 `hcl:"EM,optional"`
	HLM              float64 `hcl:"HLM,optional"`
	Ton              float64 `hcl:"Ton,optional"`
	Toff             float64 `hcl:"Toff,optional"`
}

type reactionBlock struct {
	Name      string   `hcl:"name,label"`
	CellType  string   `hcl:"cell_type"`
	Reactants []string `hcl:"reactants,optional"`
	Products  []string `hcl:"products,optional"`
	// Rate is a single-entry object such as { kb = 0.36 }.
	Rate hcl.Expression `hcl:"rate"`
}

type reversibleBlock struct {
	Name      string   `hcl:"name,label"`
	CellType  string   `hcl:"cell_type"`
	Reactants []string `hcl:"reactants,optional"`
	Products  []string `hcl:"products,optional"`
	// Rates holds the forward then the backward rate.
	Rates hcl.Expression `hcl:"rates"`
}

type catalyticBlock struct {
	Name      string `hcl:"name,label"`
	CellType  string `hcl:"cell_type"`
	Substrate string `hcl:"substrate"`
	Catalyst  string `hcl:"catalyst"`
	Product   string `hcl:"product"`
	// Rates holds the binding, unbinding and catalytic rates in that order.
	Rates hcl.Expression `hcl:"rates"`
}

type degradationBlock struct {
	CellType string `hcl:"cell_type,label"`
	// HalfLife applies to every modified species not listed in Species.
	HalfLife *float64 `hcl:"half_life,optional"`
	// Species holds per-species half lives.
	Species hcl.Expression `hcl:"species,optional"`
	Exempt  []string       `hcl:"exempt,optional"`
}

type envDegradationBlock struct {
	Species  string  `hcl:"species,label"`
	HalfLife float64 `hcl:"half_life"`
}

type deathBlock struct {
	CellType   string         `hcl:"cell_type,label"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
	When       hcl.Expression `hcl:"when"`
}

type divisionBlock struct {
	CellType string  `hcl:"cell_type,label"`
	Average  float64 `hcl:"cycle_length_avg"`
	Std      float64 `hcl:"cycle_length_std"`
}
