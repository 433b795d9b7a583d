// Package network describes cell populations as reaction networks and
// translates them into the generic agent model.
//
// A cell type becomes an agent whose properties are its species. Reactions
// become stochastic events with mass-action propensities, fluctuating
// proteins expand into either an exponential decay (standard mode) or a
// two-state promoter program (telegraph mode), and death and division rules
// become deterministic events.
//
// Species written as `Env.X` belong to the environment, a unique cell type
// created on first use. Rate parameters are qualified by the reaction that
// declares them (`<reaction>_<rate>`), so two reactions may both call their
// binding rate `kb` without sharing a value.
package network
