// Package tablemeta describes the storage layout generated actions rely on.
//
// Every entity is stored in a "trinity" table: an INTEGER surrogate key
// (pk_<entity>) used for joins, a UUID external identifier (id) exposed to
// callers, and foreign keys (fk_<field>) that point at surrogate keys. The
// table generator that owns this layout is an external collaborator; this
// package only names its parts and resolves external references through it.
package tablemeta

import (
	"fmt"

	"github.com/roach88/actionc/internal/ir"
)

// Audit and identity columns present on every table.
const (
	ColumnID        = "id"
	ColumnTenantID  = "tenant_id"
	ColumnCreatedAt = "created_at"
	ColumnCreatedBy = "created_by"
	ColumnUpdatedAt = "updated_at"
	ColumnUpdatedBy = "updated_by"
	ColumnDeletedAt = "deleted_at"
	ColumnDeletedBy = "deleted_by"
)

// Table returns the qualified table name, e.g. crm.tb_contact.
func Table(e *ir.EntityDefinition) string {
	return e.Schema + ".tb_" + ir.SnakeCase(e.Name)
}

// PKColumn returns the surrogate key column, e.g. pk_contact.
func PKColumn(e *ir.EntityDefinition) string {
	return "pk_" + ir.SnakeCase(e.Name)
}

// FKColumn returns the foreign key column for a ref field, e.g. fk_company.
func FKColumn(field string) string {
	return "fk_" + field
}

// Column returns the storage column of a field.
func Column(f *ir.FieldDefinition) string {
	if f.IsRef() {
		return FKColumn(f.Name)
	}
	return f.Name
}

// ResolverFunction returns the qualified identity helper, e.g. crm.company_pk.
func ResolverFunction(e *ir.EntityDefinition) string {
	return e.Schema + "." + ir.SnakeCase(e.Name) + "_pk"
}

// SQLType maps a field or parameter type to its PostgreSQL type.
// Ref fields map to the surrogate key type they are stored as.
func SQLType(t ir.FieldType) (string, error) {
	switch t {
	case ir.TypeText, ir.TypeEmail, ir.TypeEnum:
		return "TEXT", nil
	case ir.TypeInteger, ir.TypeRef:
		return "INTEGER", nil
	case ir.TypeBigint:
		return "BIGINT", nil
	case ir.TypeNumeric:
		return "NUMERIC", nil
	case ir.TypeBoolean:
		return "BOOLEAN", nil
	case ir.TypeDate:
		return "DATE", nil
	case ir.TypeTimestamp:
		return "TIMESTAMPTZ", nil
	case ir.TypeUUID:
		return "UUID", nil
	case ir.TypeJSONB:
		return "JSONB", nil
	default:
		return "", fmt.Errorf("no SQL type for %q", t)
	}
}

// Resolver turns an external reference into a surrogate key expression.
//
// ResolveExpr returns a SQL expression that evaluates to the target's
// surrogate key, or NULL when the reference does not resolve. refSQL is an
// already lowered SQL expression holding the external reference.
type Resolver interface {
	ResolveExpr(target *ir.EntityDefinition, refSQL string) (string, error)
}

// TrinityResolver calls the per-entity <schema>.<entity>_pk helper.
// Tenant-scoped entities are resolved within TenantArg.
type TrinityResolver struct {
	TenantArg string
}

// NewTrinityResolver returns a resolver scoped by the core's auth_tenant_id parameter.
func NewTrinityResolver() *TrinityResolver {
	return &TrinityResolver{TenantArg: "auth_tenant_id"}
}

// ResolveExpr implements Resolver.
func (r *TrinityResolver) ResolveExpr(target *ir.EntityDefinition, refSQL string) (string, error) {
	if target == nil {
		return "", fmt.Errorf("resolve: nil target entity")
	}
	if refSQL == "" {
		return "", fmt.Errorf("resolve %s: empty reference expression", target.Name)
	}
	fn := ResolverFunction(target)
	if target.TenantScoped {
		return fmt.Sprintf("%s((%s)::TEXT, %s)", fn, refSQL, r.TenantArg), nil
	}
	return fmt.Sprintf("%s((%s)::TEXT)", fn, refSQL), nil
}
