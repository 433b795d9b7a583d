package network

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vk/cellpop/internal/model"
)

// Translate lowers the network into a generic model. The network is not
// modified.
func Translate(n *Model) (*model.Model, error) {
	t := &translator{n: n, m: model.New(n.Name)}
	steps := []func(*cellType) error{t.agent, t.deterministic, t.telegraph, t.reactions, t.degradation, t.continuous}
	for _, step := range steps {
		for _, ct := range n.cellTypes {
			if err := step(ct); err != nil {
				return nil, err
			}
		}
	}
	if err := t.environmentDecay(); err != nil {
		return nil, err
	}
	return t.m, nil
}

type translator struct {
	n *Model
	m *model.Model
}

// minCycleDivisor floors a drawn cell-cycle length at avg/minCycleDivisor,
// so a newborn never divides again at the instant it is born.
const minCycleDivisor = 10

func literal(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// guarded is the copy number of species as a factor that is zero whenever
// fewer than offset+1 copies are left.
func guarded(species string, offset int) string {
	if offset == 0 {
		return fmt.Sprintf("(%s >= 1 ? %s : 0)", species, species)
	}
	return fmt.Sprintf("(%s - %d >= 1 ? %s - %d : 0)", species, offset, species, offset)
}

func fracOn(p ProteinSpec) float64 { return p.Ton / (p.Ton + p.Toff) }

func (t *translator) agent(ct *cellType) error {
	initial := make(map[string]string)
	for _, p := range ct.proteins {
		if p.Standard {
			initial[p.Name] = literal(p.EP)
			continue
		}
		initial[p.Name+"_gene"] = fmt.Sprintf("uniform(0, 1) < %s ? 1 : 0", literal(fracOn(p)))
		initial[p.Name+"_mRNA"] = literal(math.Round(p.EM))
		initial[p.Name] = literal(math.Round(p.EP))
	}
	if d := ct.division; d != nil {
		initial["CC_length"] = fmt.Sprintf("max(normal(%s, %s), %s)", literal(d.avg), literal(d.std), literal(d.avg/minCycleDivisor))
		initial["age"] = "uniform(0, CC_length)"
	}
	for s, v := range ct.initial {
		initial[s] = v
	}
	_, err := t.m.AddAgent(model.AgentSpec{
		Name:       ct.name,
		Unique:     ct.unique,
		Properties: ct.species,
		Initial:    initial,
		Count:      ct.count,
	})
	return err
}

func (t *translator) deterministic(ct *cellType) error {
	if d := ct.death; d != nil {
		_, err := t.m.AddDeterministicEvent(model.DeterministicEventSpec{
			Name:       ct.name + "_death",
			Agent:      ct.name,
			Kind:       model.Destruction.String(),
			Parameters: d.Parameters,
			Trigger:    d.Expression,
		})
		if err != nil {
			return err
		}
	}

	d := ct.division
	if d == nil {
		return nil
	}
	avg, std := ct.name+"_CC_avg", ct.name+"_CC_std"
	var stmts []string
	for _, s := range ct.species {
		if s != "age" && s != "CC_length" {
			stmts = append(stmts, fmt.Sprintf("new.%s = %s", s, s))
		}
	}
	draw := fmt.Sprintf("max(normal(%s, %s), %s / %d)", avg, std, avg, minCycleDivisor)
	stmts = append(stmts, "new.age = 0", "age = 0", "new.CC_length = "+draw, "CC_length = "+draw)
	_, err := t.m.AddDeterministicEvent(model.DeterministicEventSpec{
		Name:        ct.name + "_division",
		Agent:       ct.name,
		Kind:        model.Creation.String(),
		Parameters:  model.P(avg, d.avg, std, d.std),
		Trigger:     "age > CC_length",
		Realization: stmts,
	})
	return err
}

// telegraph expands every two-state protein into promoter switching,
// transcription, translation and first-order decay. Rates are calibrated
// so that the mean mRNA level is EM and the mean protein level is EP.
func (t *translator) telegraph(ct *cellType) error {
	for _, p := range ct.proteins {
		if p.Standard {
			continue
		}
		name, gene, mrna := p.Name, p.Name+"_gene", p.Name+"_mRNA"
		dm := math.Ln2 / p.HLM
		dp := math.Ln2 / p.HLP
		km := p.EM * dm / fracOn(p)
		kp := p.EP * dp / p.EM

		events := []struct {
			suffix     string
			param      string
			value      float64
			propensity string
			stmt       string
		}{
			{"promoter_on", name + "_kon", 1 / p.Toff, fmt.Sprintf("%s_kon * (1 - %s)", name, gene), gene + " = 1"},
			{"promoter_off", name + "_koff", 1 / p.Ton, fmt.Sprintf("%s_koff * %s", name, gene), gene + " = 0"},
			{"transcription", name + "_km", km, fmt.Sprintf("%s_km * %s", name, gene), fmt.Sprintf("%s = %s + 1", mrna, mrna)},
			{"mRNA_decay", name + "_dm", dm, fmt.Sprintf("%s_dm * %s", name, guarded(mrna, 0)), fmt.Sprintf("%s = %s - 1", mrna, mrna)},
			{"translation", name + "_kp", kp, fmt.Sprintf("%s_kp * %s", name, mrna), fmt.Sprintf("%s = %s + 1", name, name)},
			{"decay", name + "_dp", dp, fmt.Sprintf("%s_dp * %s", name, guarded(name, 0)), fmt.Sprintf("%s = %s - 1", name, name)},
		}
		for _, e := range events {
			_, err := t.m.AddStochasticEvent(model.StochasticEventSpec{
				Name:        name + "_" + e.suffix,
				Agent:       ct.name,
				Kind:        model.Mutation.String(),
				Parameters:  model.P(e.param, e.value),
				Propensity:  e.propensity,
				Realization: []string{e.stmt},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func qualify(r ref) string {
	if r.owner == nil {
		return r.species
	}
	return r.owner.name + "." + r.species
}

// massAction builds the propensity and realization of one reaction.
// Consumed species contribute a guarded factor per copy, so a reaction can
// never drive a count below zero.
func massAction(r reaction) (string, []string) {
	net := make(map[string]int)
	var order []string
	touch := func(s string, d int) {
		if _, ok := net[s]; !ok {
			order = append(order, s)
		}
		net[s] += d
	}
	for _, x := range r.reactants {
		touch(qualify(x), -1)
	}
	for _, x := range r.products {
		touch(qualify(x), +1)
	}

	factors := []string{r.rate.Name}
	copies := make(map[string]int)
	for _, x := range r.reactants {
		s := qualify(x)
		i := copies[s]
		copies[s]++
		if net[s] < 0 || i > 0 {
			factors = append(factors, guarded(s, i))
		} else {
			factors = append(factors, s)
		}
	}

	var stmts []string
	for _, s := range order {
		switch d := net[s]; {
		case d > 0:
			stmts = append(stmts, fmt.Sprintf("%s = %s + %d", s, s, d))
		case d < 0:
			stmts = append(stmts, fmt.Sprintf("%s = %s - %d", s, s, -d))
		}
	}
	return strings.Join(factors, " * "), stmts
}

func (t *translator) reactions(ct *cellType) error {
	for _, r := range ct.reactions {
		propensity, stmts := massAction(r)
		_, err := t.m.AddStochasticEvent(model.StochasticEventSpec{
			Name:        r.name,
			Agent:       ct.name,
			Kind:        model.Mutation.String(),
			Parameters:  model.P(r.rate.Name, r.rate.Value),
			Propensity:  propensity,
			Realization: stmts,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// degradation adds first-order decay of modified species. A species-specific
// half-life wins over the blanket one; native proteins, promoter and
// division state and exempted species never decay here.
func (t *translator) degradation(ct *cellType) error {
	specific := make(map[string]float64, len(ct.decays))
	for _, d := range ct.decays {
		if _, ok := ct.known[d.species]; !ok {
			return fail("degradation", d.species, fmt.Errorf("%w: %s.%s", model.ErrUnknownProperty, ct.name, d.species))
		}
		specific[d.species] = d.halfLife
	}
	for _, s := range ct.species {
		info := ct.known[s]
		if info.native || info.hidden || ct.exempt[s] {
			continue
		}
		hl, ok := specific[s]
		if !ok {
			hl = ct.allDecay
		}
		if hl == 0 {
			continue
		}
		param := ct.name + "_" + s + "_deg"
		_, err := t.m.AddStochasticEvent(model.StochasticEventSpec{
			Name:        ct.name + "_" + s + "_degradation",
			Agent:       ct.name,
			Kind:        model.Mutation.String(),
			Parameters:  model.P(param, math.Ln2/hl),
			Propensity:  param + " * " + guarded(s, 0),
			Realization: []string{fmt.Sprintf("%s = %s - 1", s, s)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *translator) continuous(ct *cellType) error {
	for _, p := range ct.proteins {
		if !p.Standard {
			continue
		}
		param := p.Name + "_dil"
		_, err := t.m.AddContinuousChange(model.ContinuousChangeSpec{
			Name:       p.Name + "_dilution",
			Agent:      ct.name,
			Property:   p.Name,
			Parameters: model.P(param, math.Ln2/p.DilutionHalfLife),
			Rate:       fmt.Sprintf("- %s * %s", param, p.Name),
		})
		if err != nil {
			return err
		}
	}
	if ct.division != nil {
		_, err := t.m.AddContinuousChange(model.ContinuousChangeSpec{
			Name:     ct.name + "_aging",
			Agent:    ct.name,
			Property: "age",
			Rate:     "1",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *translator) environmentDecay() error {
	for _, d := range t.n.envDecay {
		param := EnvName + "_" + d.species + "_deg"
		_, err := t.m.AddContinuousChange(model.ContinuousChangeSpec{
			Name:       EnvName + "_" + d.species + "_degradation",
			Agent:      EnvName,
			Property:   d.species,
			Parameters: model.P(param, math.Ln2/d.halfLife),
			Rate:       fmt.Sprintf("- %s * %s", param, d.species),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
