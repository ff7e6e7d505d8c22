// Package queryir provides the lookup query intermediate representation used
// by generated functions.
//
// Foreach steps over related rows or entity queries, and cascades scoped to
// related rows, all need a query that finds rows of one table. QueryIR is the
// boundary between the code that decides which rows (the step compiler and
// cascade planner) and the code that renders SQL for them (querysql).
//
//	[step / cascade] → [Query IR] → [querysql] → FOR r IN <sql> LOOP
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, which keeps type switches
// in querysql exhaustive.
//
// DETERMINISM:
//
// Every Select carries an OrderBy column. Rows are visited in surrogate key
// order, so regenerating the same action yields the same function and running
// it twice on the same data visits rows in the same order.
//
// VALUES:
//
// Literal values use ir.IRValue types (no floats). Values from the running
// function (parameters, row variables) are referenced with BoundEquals and
// bound by PL/pgSQL, never spliced into the text.
package queryir
