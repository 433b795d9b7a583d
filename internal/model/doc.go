// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model is the generic intermediate representation of a cellpop
// simulation: a population of agents whose properties change through three
// kinds of dynamics.
//
// # Core Concepts
//
//   - Agent: a type of simulated entity with named numeric properties. A
//     unique agent has exactly one instance (an environment, a medium); other
//     agents form a population whose size changes through creation and
//     destruction events.
//
//   - DeterministicEvent: fires the instant its boolean trigger becomes true
//     for an instance.
//
//   - StochasticEvent: fires at random times; its propensity expression gives
//     the instantaneous firing rate per instance.
//
//   - ContinuousChange: an ODE contribution d(property)/dt = rate. With an
//     agent source, the rate is evaluated for every instance of the source
//     agent and the results are summed into a property of a unique agent.
//
// Every builder call validates eagerly: names, kinds and expressions are
// checked when the construct is added, and a failing call leaves the model
// unchanged. Expressions are compiled against a closed symbol table (the
// owning agent's properties, the parameters declared so far, unique-agent
// properties) so an unresolved identifier never reaches code generation.
package model
