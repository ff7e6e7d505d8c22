package queryir

import "github.com/roach88/actionc/internal/ir"

// Query represents an abstract lookup query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Query types:
//   - Select: table access with filtering, column bindings and a stable order
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in a lookup query.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: column = literal_value
//   - BoundEquals: column = variable in the enclosing function
//   - IsNull: column IS NULL
//   - And: all predicates must be true
//
// OR predicates are excluded. A condition needing OR belongs in a step
// filter expression, not in a lookup query.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select represents table access with filtering.
//
// Semantics:
//
//	SELECT <bindings> FROM <from> WHERE <filter> ORDER BY <order_by>
//
// Example (rows of Deal pointing at the loaded contact):
//
//	Select{
//	  From: "crm.tb_deal",
//	  Filter: And{Predicates: []Predicate{
//	    BoundEquals{Field: "fk_contact", BoundVar: "v_contact.pk_contact"},
//	    BoundEquals{Field: "tenant_id", BoundVar: "auth_tenant_id"},
//	    IsNull{Field: "deleted_at"},
//	  }},
//	  OrderBy: "pk_deal",
//	}
//
// Translates to:
//
//	SELECT * FROM crm.tb_deal
//	WHERE fk_contact = v_contact.pk_contact AND tenant_id = auth_tenant_id AND deleted_at IS NULL
//	ORDER BY pk_deal ASC
//
// OrderBy is mandatory: loops and cascades visit rows in surrogate key order
// so generated code behaves the same on every run.
type Select struct {
	From     string            // Qualified table name (e.g., "crm.tb_deal")
	Filter   Predicate         // WHERE conditions (nil = no filter)
	Bindings map[string]string // column → alias (empty = all columns)
	OrderBy  string            // Surrogate key column
}

func (Select) queryNode() {}

// Equals represents a column-equals-literal predicate.
//
// Semantics:
//
//	<field> = <value>
//
// Value is rendered as a SQL literal. NULL is not a value here; use IsNull.
type Equals struct {
	Field string     // Column in the queried table
	Value ir.IRValue // Literal value (constrained to IRValue types)
}

func (Equals) predicateNode() {}

// BoundEquals represents a column-equals-variable predicate.
//
// Semantics:
//
//	<field> = <bound_var>
//
// BoundVar is a PL/pgSQL expression in scope where the query runs: a
// function parameter ("auth_tenant_id"), a row variable member
// ("v_contact.pk_contact") or a lowered step expression. PL/pgSQL binds it
// as a query parameter, so the value is never interpolated into SQL text.
type BoundEquals struct {
	Field    string // Column in the queried table
	BoundVar string // Variable or expression of the enclosing function
}

func (BoundEquals) predicateNode() {}

// IsNull represents a column-is-null predicate, used for soft delete filters.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
//
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate // All must be true (empty = always true)
}

func (And) predicateNode() {}
