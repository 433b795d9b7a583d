// Package sim runs hybrid stochastic/deterministic simulations of agent
// populations.
//
// A Program lists agent types and three kinds of rules:
//
//   - DeterministicRule: fires for an instance when its trigger becomes
//     true. A trigger that stays true fires once and fires again only after
//     it has been seen false. Triggers are checked after every state change
//     and, while continuous dynamics run, crossings inside an integration
//     step are located by bisection.
//   - StochasticRule: fires at random with the given per-instance propensity
//     (Gillespie's direct method). The waiting time is drawn as a unit
//     exponential threshold on the integrated total propensity, so it stays
//     exact while continuous dynamics change the propensities.
//   - RateRule: a contribution to the time derivative of a property,
//     integrated with fourth-order Runge-Kutta. A rule whose source agent
//     differs from its target sums its rate over all source instances into a
//     property of a unique agent.
//
// Population changes follow snapshot-then-apply: all triggers (or the
// selected stochastic event) are evaluated on the current state, then
// realizations are applied, so newborns are not evaluated before the next
// check. Programs are immutable and may be run concurrently; each run has
// its own random stream.
//
// Generated simulation programs build a Program literal and call Run; the
// cellpop command builds the same Program from a model at runtime.
package sim
