// Package dag is a small dependency graph used wherever named definitions may
// refer to each other: per-instance initial values of agent properties and
// the locals of a model file. It detects cycles and yields a stable
// evaluation order.
package dag
