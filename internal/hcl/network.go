package hcl

import (
	"fmt"

	"github.com/vk/cellpop/internal/network"
)

// buildNetwork replays the reaction-network blocks of every file on a
// network builder. Cell types come first so that later blocks can refer to
// them regardless of file order; initial levels come after the proteins
// whose default level they override.
func (l *loader) buildNetwork(name string) (*network.Model, error) {
	n := network.New(name)

	steps := []func(r *fileRoot) error{
		func(r *fileRoot) error {
			for _, b := range r.CellTypes {
				if err := n.AddCellType(network.CellTypeSpec{Name: b.Name, Unique: b.Unique, Count: b.Count}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Proteins {
				if err := n.AddFluctuatingProtein(network.ProteinSpec{CellType: b.CellType, Name: b.Name,
					Standard: b.Standard, EP: b.EP, DilutionHalfLife: b.DilutionHalfLife,
					HLP: b.HLP, EM: b.EM, HLM: b.HLM, Ton: b.Ton, Toff: b.Toff}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Reactions {
				rs, err := rates(b.Rate, l.ctx, 1)
				if err != nil {
					return fmt.Errorf("reaction %s: %w", b.Name, err)
				}
				if err := n.AddCellularReaction(network.ReactionSpec{CellType: b.CellType, Name: b.Name,
					Reactants: b.Reactants, Products: b.Products, Rate: rs[0]}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Reversible {
				rs, err := rates(b.Rates, l.ctx, 2)
				if err != nil {
					return fmt.Errorf("reversible reaction %s: %w", b.Name, err)
				}
				if err := n.AddCellularReversibleReaction(network.ReversibleReactionSpec{CellType: b.CellType, Name: b.Name,
					Reactants: b.Reactants, Products: b.Products, Forward: rs[0], Backward: rs[1]}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Catalytic {
				rs, err := rates(b.Rates, l.ctx, 3)
				if err != nil {
					return fmt.Errorf("catalytic reaction %s: %w", b.Name, err)
				}
				if err := n.AddCellularCatalyticReaction(network.CatalyticReactionSpec{CellType: b.CellType, Name: b.Name,
					Substrate: b.Substrate, Catalyst: b.Catalyst, Product: b.Product,
					Bind: rs[0], Unbind: rs[1], Catalyze: rs[2]}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.CellTypes {
				levels, err := params(b.Initial, l.ctx)
				if err != nil {
					return fmt.Errorf("cell type %s: %w", b.Name, err)
				}
				for _, lv := range levels {
					if err := n.SetInitialLevel(b.Name, lv.Name, lv.Value); err != nil {
						return err
					}
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Degradation {
				if b.HalfLife != nil {
					if err := n.SetAllModifiedProteinDegradation(b.CellType, *b.HalfLife); err != nil {
						return err
					}
				}
				specific, err := params(b.Species, l.ctx)
				if err != nil {
					return fmt.Errorf("degradation %s: %w", b.CellType, err)
				}
				for _, s := range specific {
					if err := n.SetModifiedProteinDegradation(b.CellType, s.Name, s.Value); err != nil {
						return err
					}
				}
				for _, s := range b.Exempt {
					if err := n.ExemptFromDegradation(b.CellType, s); err != nil {
						return err
					}
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.EnvDegradation {
				if err := n.SetEnvironmentSpeciesDegradation(b.Species, b.HalfLife); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Death {
				ps, err := params(b.Parameters, l.ctx)
				if err != nil {
					return fmt.Errorf("death rule %s: %w", b.CellType, err)
				}
				when, err := l.source(b.When)
				if err != nil {
					return fmt.Errorf("death rule %s: %w", b.CellType, err)
				}
				if err := n.SetCellDeathRule(network.DeathRuleSpec{CellType: b.CellType, Parameters: ps, Expression: when}); err != nil {
					return err
				}
			}
			return nil
		},
		func(r *fileRoot) error {
			for _, b := range r.Division {
				if err := n.DefineDivision(b.CellType, b.Average, b.Std); err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, step := range steps {
		if err := l.each(step); err != nil {
			return nil, err
		}
	}
	return n, nil
}

