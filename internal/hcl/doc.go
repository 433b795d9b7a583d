// Package hcl loads model descriptions written in HCL.
//
// A model is spread over one or more .hcl files. Reaction-network blocks
// (cell_type, fluctuating_protein, reaction, ...) are fed to the network
// builder and translated; generic blocks (agent, stochastic_event, ...) are
// added to the resulting model afterwards. Numbers anywhere in the files may
// use `local.*` values and the cty math functions; model expressions such as
// triggers and propensities are kept as source text and compiled by the
// model builder.
package hcl
