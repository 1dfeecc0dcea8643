// Package il is the in-memory intermediate representation of a compiled
// module: types, fields, methods, signatures, instruction bodies and
// exception regions.
//
// The model is intentionally narrow. It carries what instruction rewriting,
// framework resolution and verification need, and nothing of the binary
// format's full metadata model. Modules are produced and consumed by
// pkg/image; protections mutate them in place.
//
// Instructions reference each other by pointer, so inserting or replacing
// instructions never invalidates branch targets or handler boundaries.
// Members receive stable row ids when attached to a module; see Module.
package il
