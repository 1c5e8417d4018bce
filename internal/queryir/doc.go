// Package queryir is the query intermediate representation used by the
// state repository.
//
// Repository operations describe what they want (a filtered select over the
// states of one state machine, a scoped update of a set of rows) as IR nodes,
// and a backend compiler (internal/querysql) turns the IR into parameterized
// SQL. Values never appear in query text: every literal is an ir.IRValue and
// is carried to the backend as a bound parameter.
//
// Query, Predicate and Assignment are sealed interfaces using the marker
// method pattern, so backends can switch exhaustively over them:
//
//	switch q := query.(type) {
//	case Select:
//	case Update:
//	}
//
// Validate checks the structural rules every backend relies on:
//   - identifiers (tables, aliases, columns) match [a-z_][a-z0-9_]* with an
//     optional single qualifier, so they can be emitted verbatim
//   - In carries at least one value; an empty set is a caller bug, never a
//     predicate that silently matches nothing
//   - Update carries a filter; unscoped updates are not expressible
package queryir
