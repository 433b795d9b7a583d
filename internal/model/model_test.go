// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cellpop/internal/expr"
)

// liquidGol builds the two-agent model with division, stochastic death and
// a medium fed by every cell.
func liquidGol(t *testing.T) *Model {
	t.Helper()
	m := New("liquid_gol")

	_, err := m.AddAgent(AgentSpec{Name: "Cell", Properties: []string{"age", "CC_length"}, Count: 1,
		Initial: map[string]string{"CC_length": "normal(3, 0.25)"}})
	require.NoError(t, err)
	_, err = m.AddAgent(AgentSpec{Name: "Medium", Unique: true, Properties: []string{"IP"}})
	require.NoError(t, err)

	_, err = m.AddDeterministicEvent(DeterministicEventSpec{
		Name: "cell_division", Agent: "Cell", Kind: "creation",
		Parameters: P("CC_avg", 3.0, "CC_std", 0.25),
		Trigger:    "age > CC_length",
		Realization: []string{
			"new.age = age - CC_length",
			"age = new.age",
			"new.CC_length = ran.norm ( CC_avg , CC_std ) ",
			"CC_length = ran.norm ( CC_avg , CC_std ) ",
		},
	})
	require.NoError(t, err)

	_, err = m.AddStochasticEvent(StochasticEventSpec{
		Name: "cell_death", Agent: "Cell", Kind: "destruction",
		Parameters: P("IP_threshold", 1.0, "IP_death_rate_slope", 0.01),
		Propensity: "IP > IP_threshold ? IP * IP_death_rate_slope : 0.",
	})
	require.NoError(t, err)

	_, err = m.AddContinuousChange(ContinuousChangeSpec{Name: "cell_aging", Agent: "Cell", Property: "age", Rate: "1."})
	require.NoError(t, err)
	_, err = m.AddContinuousChange(ContinuousChangeSpec{Name: "IP_degradation", Agent: "Medium", Property: "IP",
		Parameters: P("IP_degradation_rate", 10.0), Rate: "- IP * IP_degradation_rate"})
	require.NoError(t, err)
	_, err = m.AddContinuousChange(ContinuousChangeSpec{Name: "IP_production", Agent: "Medium", Property: "IP",
		Source: "Cell", Parameters: P("IP_prod_rate", 0.01), Rate: "IP_prod_rate"})
	require.NoError(t, err)
	return m
}

func TestModel_LiquidGol(t *testing.T) {
	m := liquidGol(t)

	require.Len(t, m.Agents(), 2)
	require.Len(t, m.DeterministicEvents(), 1)
	require.Len(t, m.StochasticEvents(), 1)
	require.Len(t, m.ContinuousChanges(), 3)

	death := m.StochasticEvents()[0]
	syms := death.Propensity.Symbols()
	require.NotEmpty(t, syms)
	assert.Equal(t, expr.UniqueProperty, syms[0].Kind, "IP must resolve to the Medium singleton")
	assert.Equal(t, "Medium", syms[0].AgentName)

	div := m.DeterministicEvents()[0]
	assert.Equal(t, Creation, div.Kind)
	require.Len(t, div.Realization, 4)
	assert.Equal(t, expr.NewProperty, div.Realization[0].Target.Kind)
	assert.Equal(t, expr.Property, div.Realization[1].Target.Kind)

	prod := m.ContinuousChanges()[2]
	assert.True(t, prod.CrossPopulation())
	assert.Equal(t, "Cell", prod.Source.Name)
	assert.False(t, m.ContinuousChanges()[0].CrossPopulation())

	cell, ok := m.Agent("Cell")
	require.True(t, ok)
	assert.Equal(t, 1, cell.InitialCount())
	medium, _ := m.Agent("Medium")
	assert.Equal(t, 1, medium.InitialCount())
	assert.True(t, m.HasParameter("CC_avg"))
}

func TestModel_AgentValidation(t *testing.T) {
	t.Run("duplicate agent", func(t *testing.T) {
		m := New("x")
		_, err := m.AddAgent(AgentSpec{Name: "Cell"})
		require.NoError(t, err)
		_, err = m.AddAgent(AgentSpec{Name: "Cell"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("bad names", func(t *testing.T) {
		m := New("x")
		_, err := m.AddAgent(AgentSpec{Name: "my-cell"})
		assert.ErrorIs(t, err, ErrInvalidName)
		_, err = m.AddAgent(AgentSpec{Name: "Cell", Properties: []string{"type"}})
		assert.ErrorIs(t, err, ErrInvalidName)
		_, err = m.AddAgent(AgentSpec{Name: "Cell", Properties: []string{"a", "a"}})
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.Empty(t, m.Agents(), "failed calls must not change the model")
	})

	t.Run("initial values are ordered by dependency", func(t *testing.T) {
		m := New("x")
		a, err := m.AddAgent(AgentSpec{Name: "Cell", Properties: []string{"age", "CC_length"},
			Initial: map[string]string{"age": "uniform(0, CC_length)", "CC_length": "normal(27, 3)"}})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 0}, a.InitOrder)
	})

	t.Run("initial value cycles and unknown names", func(t *testing.T) {
		m := New("x")
		_, err := m.AddAgent(AgentSpec{Name: "A", Properties: []string{"p", "q"},
			Initial: map[string]string{"p": "q + 1", "q": "p + 1"}})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = m.AddAgent(AgentSpec{Name: "B", Properties: []string{"p"},
			Initial: map[string]string{"p": "p + 1"}})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = m.AddAgent(AgentSpec{Name: "C", Properties: []string{"p"},
			Initial: map[string]string{"p": "k"}})
		assert.ErrorIs(t, err, expr.ErrUnresolved)

		_, err = m.AddAgent(AgentSpec{Name: "D", Properties: []string{"p"},
			Initial: map[string]string{"r": "1"}})
		assert.ErrorIs(t, err, ErrUnknownProperty)
	})
}

func TestModel_EventValidation(t *testing.T) {
	base := func(t *testing.T) *Model {
		m := New("x")
		_, err := m.AddAgent(AgentSpec{Name: "Cell", Properties: []string{"age", "CC_length"}})
		require.NoError(t, err)
		_, err = m.AddAgent(AgentSpec{Name: "Env", Unique: true, Properties: []string{"TRAIL"}})
		require.NoError(t, err)
		return m
	}

	cases := []struct {
		name string
		add  func(m *Model) error
		want error
	}{
		{"unknown agent", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Ghost", Kind: "mutation", Propensity: "1"})
			return err
		}, ErrUnknownAgent},
		{"unknown kind", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Cell", Kind: "explode", Propensity: "1"})
			return err
		}, ErrInvalidKind},
		{"unresolved identifier in propensity", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Cell", Kind: "mutation", Propensity: "k * age"})
			return err
		}, expr.ErrUnresolved},
		{"trigger must be boolean", func(m *Model) error {
			_, err := m.AddDeterministicEvent(DeterministicEventSpec{Name: "e", Agent: "Cell", Kind: "mutation", Trigger: "age + 1"})
			return err
		}, expr.ErrType},
		{"new outside creation", func(m *Model) error {
			_, err := m.AddDeterministicEvent(DeterministicEventSpec{Name: "e", Agent: "Cell", Kind: "mutation",
				Trigger: "age > 1", Realization: []string{"new.age = 0"}})
			return err
		}, expr.ErrUnresolved},
		{"creation must assign every new property", func(m *Model) error {
			_, err := m.AddDeterministicEvent(DeterministicEventSpec{Name: "e", Agent: "Cell", Kind: "creation",
				Trigger: "age > 1", Realization: []string{"new.age = 0"}})
			return err
		}, ErrUnassigned},
		{"creation on unique agent", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Env", Kind: "creation", Propensity: "1"})
			return err
		}, ErrInvalid},
		{"parameter shadows property", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Cell", Kind: "mutation",
				Parameters: P("age", 1.0), Propensity: "1"})
			return err
		}, ErrInvalid},
		{"parameter declared twice", func(m *Model) error {
			_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "e", Agent: "Cell", Kind: "mutation",
				Parameters: P("k", 1.0, "k", 2.0), Propensity: "k"})
			return err
		}, ErrDuplicate},
		{"unknown property of continuous change", func(m *Model) error {
			_, err := m.AddContinuousChange(ContinuousChangeSpec{Name: "e", Agent: "Cell", Property: "mass", Rate: "1"})
			return err
		}, ErrUnknownProperty},
		{"agent source into non-unique target", func(m *Model) error {
			_, err := m.AddContinuousChange(ContinuousChangeSpec{Name: "e", Agent: "Cell", Property: "age", Source: "Env", Rate: "1"})
			return err
		}, ErrInvalid},
		{"non-unique agent is not addressable", func(m *Model) error {
			_, err := m.AddContinuousChange(ContinuousChangeSpec{Name: "e", Agent: "Env", Property: "TRAIL", Rate: "Cell.age"})
			return err
		}, expr.ErrUnresolved},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := base(t)
			err := tc.add(m)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var merr *Error
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, "e", merr.Name)
		})
	}

	t.Run("duplicate event names across kinds", func(t *testing.T) {
		m := base(t)
		_, err := m.AddContinuousChange(ContinuousChangeSpec{Name: "aging", Agent: "Cell", Property: "age", Rate: "1"})
		require.NoError(t, err)
		_, err = m.AddStochasticEvent(StochasticEventSpec{Name: "aging", Agent: "Cell", Kind: "mutation", Propensity: "1"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("parameters of earlier events are visible", func(t *testing.T) {
		m := base(t)
		_, err := m.AddStochasticEvent(StochasticEventSpec{Name: "a", Agent: "Cell", Kind: "mutation",
			Parameters: P("k", 2.0), Propensity: "k"})
		require.NoError(t, err)
		_, err = m.AddStochasticEvent(StochasticEventSpec{Name: "b", Agent: "Cell", Kind: "mutation",
			Propensity: "k * age", Realization: []string{"age = age + 1", "Env.TRAIL = TRAIL - 1"}})
		require.NoError(t, err)
	})
}

func TestModel_TerminalCondition(t *testing.T) {
	m := liquidGol(t)
	require.NoError(t, m.SetTerminalCondition("Cell.count >= 1000 || IP > 50"))
	require.NotNil(t, m.TerminalCondition())

	err := m.SetTerminalCondition("age > 1")
	assert.ErrorIs(t, err, expr.ErrUnresolved, "instance properties are not visible to terminal conditions")
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Creation, Destruction, Mutation} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("Creation")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
