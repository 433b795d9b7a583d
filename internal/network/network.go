package network

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/vk/cellpop/internal/expr"
	"github.com/vk/cellpop/internal/model"
)

// EnvName is the cell type that holds environment species.
const EnvName = "Env"

var (
	ErrUnsupported     = errors.New("unsupported construct")
	ErrUnknownCellType = errors.New("unknown cell type")
	ErrDuplicate       = errors.New("duplicate name")
	ErrInvalid         = errors.New("invalid value")
)

// Rate is a named rate constant of a reaction.
type Rate struct {
	Name  string
	Value float64
}

// CellTypeSpec is the input of AddCellType.
type CellTypeSpec struct {
	Name string
	// Unique cell types have a single instance; their species are shared
	// by every other cell type.
	Unique bool
	// Count is the initial number of cells; zero means 1.
	Count int
}

// ProteinSpec is the input of AddFluctuatingProtein.
type ProteinSpec struct {
	CellType string
	Name     string
	// Standard selects plain exponential dilution from EP with
	// DilutionHalfLife. Otherwise the telegraph parameters are used.
	Standard         bool
	EP               float64
	DilutionHalfLife float64

	HLP  float64
	EM   float64
	HLM  float64
	Ton  float64
	Toff float64
}

// ReactionSpec is the input of AddCellularReaction.
type ReactionSpec struct {
	CellType  string
	Name      string
	Reactants []string
	Products  []string
	Rate      Rate
}

// ReversibleReactionSpec is the input of AddCellularReversibleReaction.
type ReversibleReactionSpec struct {
	CellType  string
	Name      string
	Reactants []string
	Products  []string
	Forward   Rate
	Backward  Rate
}

// CatalyticReactionSpec is the input of AddCellularCatalyticReaction.
type CatalyticReactionSpec struct {
	CellType  string
	Name      string
	Substrate string
	Catalyst  string
	Product   string
	Bind      Rate
	Unbind    Rate
	Catalyze  Rate
}

// DeathRuleSpec is the input of SetCellDeathRule.
type DeathRuleSpec struct {
	CellType   string
	Parameters model.Params
	Expression string
}

// Model is a reaction-network description under construction.
type Model struct {
	Name string

	cellTypes []*cellType
	byName    map[string]*cellType
	reactions map[string]bool
	envDecay  []decay
}

type cellType struct {
	name   string
	unique bool
	count  int

	species []string
	known   map[string]speciesInfo
	initial map[string]string

	proteins  []ProteinSpec
	reactions []reaction
	allDecay  float64
	decays    []decay
	exempt    map[string]bool
	death     *DeathRuleSpec
	division  *division
}

type speciesInfo struct {
	native bool
	hidden bool
}

type decay struct {
	species  string
	halfLife float64
}

type division struct {
	avg, std float64
}

// ref is a species reference: the cell type that owns the species (nil for
// the reacting cell itself) and the species name.
type ref struct {
	owner   *cellType
	species string
}

// reaction is one irreversible mass-action step after macro expansion.
type reaction struct {
	name      string
	reactants []ref
	products  []ref
	rate      Rate
}

// New creates an empty network model.
func New(name string) *Model {
	return &Model{Name: name, byName: make(map[string]*cellType), reactions: make(map[string]bool)}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(construct, name string) error {
	if !identRe.MatchString(name) {
		return &model.Error{Construct: construct, Name: name, Err: fmt.Errorf("%w: %q", model.ErrInvalidName, name)}
	}
	return nil
}

func fail(construct, name string, err error) error {
	return &model.Error{Construct: construct, Name: name, Err: err}
}

// AddCellType declares a cell type.
func (m *Model) AddCellType(spec CellTypeSpec) error {
	const construct = "cell type"
	if err := checkName(construct, spec.Name); err != nil {
		return err
	}
	if _, ok := m.byName[spec.Name]; ok {
		return fail(construct, spec.Name, ErrDuplicate)
	}
	if spec.Count < 0 {
		return fail(construct, spec.Name, fmt.Errorf("%w: negative count %d", ErrInvalid, spec.Count))
	}
	m.addCellType(spec)
	return nil
}

func (m *Model) addCellType(spec CellTypeSpec) *cellType {
	count := spec.Count
	if count == 0 {
		count = 1
	}
	ct := &cellType{
		name:    spec.Name,
		unique:  spec.Unique,
		count:   count,
		known:   make(map[string]speciesInfo),
		initial: make(map[string]string),
		exempt:  make(map[string]bool),
	}
	m.cellTypes = append(m.cellTypes, ct)
	m.byName[ct.name] = ct
	return ct
}

func (m *Model) cellType(construct, name, cell string) (*cellType, error) {
	if cell == EnvName {
		return m.env(), nil
	}
	ct, ok := m.byName[cell]
	if !ok {
		return nil, fail(construct, name, fmt.Errorf("%w: %s", ErrUnknownCellType, cell))
	}
	return ct, nil
}

// env returns the environment cell type, creating it on first use.
func (m *Model) env() *cellType {
	if ct, ok := m.byName[EnvName]; ok {
		return ct
	}
	return m.addCellType(CellTypeSpec{Name: EnvName, Unique: true})
}

func (ct *cellType) declare(species string, info speciesInfo) {
	if _, ok := ct.known[species]; ok {
		return
	}
	ct.known[species] = info
	ct.species = append(ct.species, species)
}

// resolve parses a species reference such as "R" or "Env.TRAIL" and
// declares the species in its owner.
func (m *Model) resolve(ct *cellType, name string) (ref, error) {
	head, species, qualified := strings.Cut(name, ".")
	if !qualified {
		if !identRe.MatchString(name) {
			return ref{}, fmt.Errorf("%w: species %q", model.ErrInvalidName, name)
		}
		ct.declare(name, speciesInfo{})
		return ref{species: name}, nil
	}
	if !identRe.MatchString(head) || !identRe.MatchString(species) {
		return ref{}, fmt.Errorf("%w: species %q", ErrUnsupported, name)
	}
	if head == ct.name {
		ct.declare(species, speciesInfo{})
		return ref{species: species}, nil
	}
	var owner *cellType
	switch other, ok := m.byName[head]; {
	case ok && other.unique:
		owner = other
	case !ok && head == EnvName:
		owner = m.env()
	case ok:
		return ref{}, fmt.Errorf("%w: %s is shared by every %s cell; only unique cell types can be referenced", ErrUnsupported, name, head)
	default:
		return ref{}, fmt.Errorf("%w: %s", ErrUnknownCellType, head)
	}
	owner.declare(species, speciesInfo{})
	return ref{owner: owner, species: species}, nil
}

func checkRate(r Rate) error {
	if !identRe.MatchString(r.Name) {
		return fmt.Errorf("%w: rate name %q", model.ErrInvalidName, r.Name)
	}
	if r.Value < 0 || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: rate %s = %g", ErrInvalid, r.Name, r.Value)
	}
	return nil
}

func checkHalfLife(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be positive, got %g", ErrInvalid, name, v)
	}
	return nil
}

// AddFluctuatingProtein declares a native protein of a cell type.
func (m *Model) AddFluctuatingProtein(spec ProteinSpec) error {
	const construct = "fluctuating protein"
	if err := checkName(construct, spec.Name); err != nil {
		return err
	}
	ct, err := m.cellType(construct, spec.Name, spec.CellType)
	if err != nil {
		return err
	}
	if _, ok := ct.known[spec.Name]; ok {
		return fail(construct, spec.Name, fmt.Errorf("%w: species %s already declared in %s", ErrDuplicate, spec.Name, ct.name))
	}
	if spec.EP < 0 {
		return fail(construct, spec.Name, fmt.Errorf("%w: EP must not be negative", ErrInvalid))
	}

	if spec.Standard {
		if err := checkHalfLife("dilution half-life", spec.DilutionHalfLife); err != nil {
			return fail(construct, spec.Name, err)
		}
		ct.declare(spec.Name, speciesInfo{native: true})
	} else {
		for _, v := range []struct {
			name  string
			value float64
		}{{"HLP", spec.HLP}, {"HLM", spec.HLM}, {"Ton", spec.Ton}, {"Toff", spec.Toff}, {"EM", spec.EM}} {
			if err := checkHalfLife(v.name, v.value); err != nil {
				return fail(construct, spec.Name, err)
			}
		}
		for _, hidden := range []string{spec.Name + "_gene", spec.Name + "_mRNA"} {
			if _, ok := ct.known[hidden]; ok {
				return fail(construct, spec.Name, fmt.Errorf("%w: %s clashes with an existing species", ErrDuplicate, hidden))
			}
			ct.declare(hidden, speciesInfo{native: true, hidden: true})
		}
		ct.declare(spec.Name, speciesInfo{native: true})
	}
	ct.proteins = append(ct.proteins, spec)
	return nil
}

func (m *Model) claimReaction(construct, name string) error {
	if err := checkName(construct, name); err != nil {
		return err
	}
	if m.reactions[name] {
		return fail(construct, name, ErrDuplicate)
	}
	return nil
}

func (m *Model) side(ct *cellType, names []string) ([]ref, error) {
	out := make([]ref, 0, len(names))
	for _, n := range names {
		r, err := m.resolve(ct, n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Model) elementary(ct *cellType, name string, reactants, products []string, rate Rate) (reaction, error) {
	if len(reactants) == 0 && len(products) == 0 {
		return reaction{}, fmt.Errorf("%w: reaction without reactants or products", ErrUnsupported)
	}
	if len(reactants) > 3 {
		return reaction{}, fmt.Errorf("%w: %d reactants, at most 3 are supported", ErrUnsupported, len(reactants))
	}
	if err := checkRate(rate); err != nil {
		return reaction{}, err
	}
	r := reaction{name: name, rate: rate}
	var err error
	if r.reactants, err = m.side(ct, reactants); err != nil {
		return reaction{}, err
	}
	if r.products, err = m.side(ct, products); err != nil {
		return reaction{}, err
	}
	return r, nil
}

// AddCellularReaction declares an irreversible mass-action reaction.
func (m *Model) AddCellularReaction(spec ReactionSpec) error {
	const construct = "reaction"
	if err := m.claimReaction(construct, spec.Name); err != nil {
		return err
	}
	ct, err := m.cellType(construct, spec.Name, spec.CellType)
	if err != nil {
		return err
	}
	if spec.Rate.Name == "" {
		spec.Rate.Name = "k"
	}
	r, err := m.elementary(ct, spec.Name, spec.Reactants, spec.Products, spec.Rate)
	if err != nil {
		return fail(construct, spec.Name, err)
	}
	r.rate.Name = spec.Name + "_" + spec.Rate.Name
	ct.reactions = append(ct.reactions, r)
	m.reactions[spec.Name] = true
	return nil
}

// AddCellularReversibleReaction declares a reaction together with its
// reverse.
func (m *Model) AddCellularReversibleReaction(spec ReversibleReactionSpec) error {
	const construct = "reversible reaction"
	if err := m.claimReaction(construct, spec.Name); err != nil {
		return err
	}
	ct, err := m.cellType(construct, spec.Name, spec.CellType)
	if err != nil {
		return err
	}
	if spec.Forward.Name == "" {
		spec.Forward.Name = "kf"
	}
	if spec.Backward.Name == "" {
		spec.Backward.Name = "kr"
	}
	if spec.Forward.Name == spec.Backward.Name {
		return fail(construct, spec.Name, fmt.Errorf("%w: forward and backward rates share the name %s", ErrDuplicate, spec.Forward.Name))
	}
	fwd, err := m.elementary(ct, spec.Name+"_forward", spec.Reactants, spec.Products, spec.Forward)
	if err != nil {
		return fail(construct, spec.Name, err)
	}
	bwd, err := m.elementary(ct, spec.Name+"_backward", spec.Products, spec.Reactants, spec.Backward)
	if err != nil {
		return fail(construct, spec.Name, err)
	}
	// Both directions draw their parameters from the reaction name.
	fwd.rate.Name, bwd.rate.Name = spec.Name+"_"+spec.Forward.Name, spec.Name+"_"+spec.Backward.Name
	ct.reactions = append(ct.reactions, fwd, bwd)
	m.reactions[spec.Name] = true
	return nil
}

// AddCellularCatalyticReaction declares S + E <-> S_E -> P + E. The complex
// is named <substrate>_<catalyst>, or <reaction>_<substrate>_<catalyst> when
// that name is already taken.
func (m *Model) AddCellularCatalyticReaction(spec CatalyticReactionSpec) error {
	const construct = "catalytic reaction"
	if err := m.claimReaction(construct, spec.Name); err != nil {
		return err
	}
	ct, err := m.cellType(construct, spec.Name, spec.CellType)
	if err != nil {
		return err
	}
	defaults := [...]string{"kb", "ku", "kc"}
	for i, r := range []*Rate{&spec.Bind, &spec.Unbind, &spec.Catalyze} {
		if r.Name == "" {
			r.Name = defaults[i]
		}
	}
	if spec.Bind.Name == spec.Unbind.Name || spec.Bind.Name == spec.Catalyze.Name || spec.Unbind.Name == spec.Catalyze.Name {
		return fail(construct, spec.Name, fmt.Errorf("%w: rate names must differ", ErrDuplicate))
	}

	for _, s := range []string{spec.Substrate, spec.Catalyst, spec.Product} {
		if strings.Contains(s, ".") {
			return fail(construct, spec.Name, fmt.Errorf("%w: catalytic reactions act on the cell's own species, got %s", ErrUnsupported, s))
		}
	}
	complexName := spec.Substrate + "_" + spec.Catalyst
	if _, taken := ct.known[complexName]; taken {
		complexName = spec.Name + "_" + complexName
	}

	steps := []struct {
		suffix              string
		reactants, products []string
		rate                Rate
	}{
		{"bind", []string{spec.Substrate, spec.Catalyst}, []string{complexName}, spec.Bind},
		{"unbind", []string{complexName}, []string{spec.Substrate, spec.Catalyst}, spec.Unbind},
		{"catalyze", []string{complexName}, []string{spec.Product, spec.Catalyst}, spec.Catalyze},
	}
	var out []reaction
	for _, st := range steps {
		r, err := m.elementary(ct, spec.Name+"_"+st.suffix, st.reactants, st.products, st.rate)
		if err != nil {
			return fail(construct, spec.Name, err)
		}
		r.rate.Name = spec.Name + "_" + st.rate.Name
		out = append(out, r)
	}
	ct.reactions = append(ct.reactions, out...)
	m.reactions[spec.Name] = true
	return nil
}

// SetAllModifiedProteinDegradation sets the half-life of every modified
// (non-native) species of a cell type that has no specific half-life.
func (m *Model) SetAllModifiedProteinDegradation(cell string, halfLife float64) error {
	const construct = "degradation"
	ct, err := m.cellType(construct, cell, cell)
	if err != nil {
		return err
	}
	if err := checkHalfLife("half-life", halfLife); err != nil {
		return fail(construct, cell, err)
	}
	ct.allDecay = halfLife
	return nil
}

// SetModifiedProteinDegradation sets the half-life of one modified species.
func (m *Model) SetModifiedProteinDegradation(cell, species string, halfLife float64) error {
	const construct = "degradation"
	ct, err := m.cellType(construct, species, cell)
	if err != nil {
		return err
	}
	if err := checkName(construct, species); err != nil {
		return err
	}
	if err := checkHalfLife("half-life", halfLife); err != nil {
		return fail(construct, species, err)
	}
	if info, ok := ct.known[species]; ok && info.native {
		return fail(construct, species, fmt.Errorf("%w: %s is a native protein", ErrUnsupported, species))
	}
	for i := range ct.decays {
		if ct.decays[i].species == species {
			ct.decays[i].halfLife = halfLife
			return nil
		}
	}
	ct.decays = append(ct.decays, decay{species: species, halfLife: halfLife})
	return nil
}

// SetEnvironmentSpeciesDegradation makes an environment species decay
// exponentially.
func (m *Model) SetEnvironmentSpeciesDegradation(species string, halfLife float64) error {
	const construct = "environment degradation"
	if err := checkName(construct, species); err != nil {
		return err
	}
	if err := checkHalfLife("half-life", halfLife); err != nil {
		return fail(construct, species, err)
	}
	m.env().declare(species, speciesInfo{})
	for i := range m.envDecay {
		if m.envDecay[i].species == species {
			m.envDecay[i].halfLife = halfLife
			return nil
		}
	}
	m.envDecay = append(m.envDecay, decay{species: species, halfLife: halfLife})
	return nil
}

// ExemptFromDegradation excludes a species from blanket degradation.
func (m *Model) ExemptFromDegradation(cell, species string) error {
	ct, err := m.cellType("degradation", species, cell)
	if err != nil {
		return err
	}
	ct.exempt[species] = true
	return nil
}

// SetInitialLevel sets the copy number of a species at time 0, declaring
// the species if needed. Native proteins start at EP unless overridden.
func (m *Model) SetInitialLevel(cell, species string, level float64) error {
	const construct = "initial level"
	ct, err := m.cellType(construct, species, cell)
	if err != nil {
		return err
	}
	if err := checkName(construct, species); err != nil {
		return err
	}
	if level < 0 || math.IsNaN(level) || math.IsInf(level, 0) {
		return fail(construct, species, fmt.Errorf("%w: level %g", ErrInvalid, level))
	}
	ct.declare(species, speciesInfo{})
	ct.initial[species] = literal(level)
	return nil
}

// SetInitialCount sets the number of cells of a non-unique type at time 0.
func (m *Model) SetInitialCount(cell string, n int) error {
	const construct = "initial count"
	ct, err := m.cellType(construct, cell, cell)
	if err != nil {
		return err
	}
	if n < 0 || ct.unique {
		return fail(construct, cell, fmt.Errorf("%w: count %d", ErrInvalid, n))
	}
	ct.count = n
	return nil
}

// SetCellDeathRule installs the predicate under which a cell is destroyed.
// Identifiers that are neither parameters of the rule nor known species
// are declared as species of the cell type.
func (m *Model) SetCellDeathRule(spec DeathRuleSpec) error {
	const construct = "death rule"
	ct, err := m.cellType(construct, spec.CellType, spec.CellType)
	if err != nil {
		return err
	}
	if ct.unique {
		return fail(construct, spec.CellType, fmt.Errorf("%w: death of unique cell type", ErrUnsupported))
	}
	refs, err := expr.References(spec.Expression)
	if err != nil {
		return fail(construct, spec.CellType, err)
	}
	for _, path := range refs {
		if len(path) == 1 {
			if _, isParam := spec.Parameters.Lookup(path[0]); isParam {
				continue
			}
		}
		if len(path) == 2 && path[1] == "count" {
			continue
		}
		if _, err := m.resolve(ct, strings.Join(path, ".")); err != nil {
			return fail(construct, spec.CellType, err)
		}
	}
	rule := spec
	rule.Parameters = append(model.Params(nil), spec.Parameters...)
	ct.death = &rule
	return nil
}

// DefineDivision makes cells divide when their age exceeds a cell-cycle
// length drawn from normal(avg, std), floored at a tenth of avg.
func (m *Model) DefineDivision(cell string, avg, std float64) error {
	const construct = "division"
	ct, err := m.cellType(construct, cell, cell)
	if err != nil {
		return err
	}
	if ct.unique {
		return fail(construct, cell, fmt.Errorf("%w: division of unique cell type", ErrUnsupported))
	}
	if err := checkHalfLife("cell cycle average", avg); err != nil {
		return fail(construct, cell, err)
	}
	if std < 0 || math.IsNaN(std) {
		return fail(construct, cell, fmt.Errorf("%w: cell cycle deviation %g", ErrInvalid, std))
	}
	for _, p := range []string{"age", "CC_length"} {
		if info, ok := ct.known[p]; ok && !info.hidden {
			return fail(construct, cell, fmt.Errorf("%w: species %s clashes with the division state", ErrDuplicate, p))
		}
	}
	if ct.division == nil {
		ct.declare("age", speciesInfo{hidden: true})
		ct.declare("CC_length", speciesInfo{hidden: true})
	}
	ct.division = &division{avg: avg, std: std}
	return nil
}
