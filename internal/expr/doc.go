// Package expr is the expression layer of cellpop.
//
// Expressions are written in HCL native syntax (arithmetic, comparisons,
// boolean logic, `c ? a : b`, parentheses and function calls). They are
// parsed once with hclsyntax and compiled against a closed symbol table
// supplied by the caller, producing a small typed tree:
//
//   - every identifier is resolved when the expression is compiled, so an
//     unknown name is a build error and never a runtime surprise;
//   - every node is statically typed as Number or Bool;
//   - function calls are checked against the builtin registry.
//
// A compiled tree is consumed two ways: Link turns it into closures for the
// in-process simulator, and the code generator renders it as Go source.
package expr
