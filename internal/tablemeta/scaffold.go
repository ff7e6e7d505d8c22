package tablemeta

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/plsql"
)

// Scaffold renders a minimal DDL implementation of the layout for a model:
// schemas, trinity tables, foreign keys and resolver helpers.
//
// Production deployments get their tables from the table generator. Scaffold
// exists so generated actions can be applied to an empty database by tests
// and by `actionc apply --scaffold`.
func Scaffold(m *ir.Model) (string, error) {
	var b strings.Builder

	schemas := make([]string, 0, len(m.Entities))
	for i := range m.Entities {
		if !slices.Contains(schemas, m.Entities[i].Schema) {
			schemas = append(schemas, m.Entities[i].Schema)
		}
	}
	slices.Sort(schemas)
	for _, s := range schemas {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", s)
	}
	b.WriteString("\n")

	for i := range m.Entities {
		ddl, err := tableDDL(&m.Entities[i])
		if err != nil {
			return "", err
		}
		b.WriteString(ddl)
		b.WriteString("\n")
	}

	// Foreign keys after every table exists so declaration order does not matter.
	for i := range m.Entities {
		e := &m.Entities[i]
		for j := range e.Fields {
			f := &e.Fields[j]
			if !f.IsRef() {
				continue
			}
			target := m.Entity(f.Ref)
			if target == nil {
				return "", fmt.Errorf("scaffold %s.%s: unknown referenced entity %q", e.Name, f.Name, f.Ref)
			}
			// Re-applying the scaffold must not fail on existing constraints.
			fmt.Fprintf(&b, "DO $$\nBEGIN\n    ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);\nEXCEPTION\n    WHEN duplicate_object THEN NULL;\nEND;\n$$;\n",
				Table(e), ForeignKeyName(e, f), FKColumn(f.Name), Table(target), PKColumn(target))
		}
	}
	b.WriteString("\n")

	for i := range m.Entities {
		b.WriteString(resolverDDL(&m.Entities[i]))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ForeignKeyName names the constraint backing a ref field, e.g. fk_contact_company.
func ForeignKeyName(e *ir.EntityDefinition, f *ir.FieldDefinition) string {
	return "fk_" + ir.SnakeCase(e.Name) + "_" + f.Name
}

func tableDDL(e *ir.EntityDefinition) (string, error) {
	cols := []string{
		fmt.Sprintf("%s INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY", PKColumn(e)),
		fmt.Sprintf("%s UUID NOT NULL DEFAULT gen_random_uuid() UNIQUE", ColumnID),
	}
	if e.TenantScoped {
		cols = append(cols, ColumnTenantID+" UUID NOT NULL")
	}
	for i := range e.Fields {
		f := &e.Fields[i]
		typ, err := SQLType(f.Type)
		if err != nil {
			return "", fmt.Errorf("scaffold %s.%s: %w", e.Name, f.Name, err)
		}
		col := Column(f) + " " + typ
		if !f.Nullable {
			col += " NOT NULL"
		}
		if f.Type == ir.TypeEnum {
			col += fmt.Sprintf(" CHECK (%s IN (%s))", f.Name, plsql.LiteralList(f.Values))
		}
		cols = append(cols, col)
	}
	cols = append(cols,
		ColumnCreatedAt+" TIMESTAMPTZ NOT NULL DEFAULT now()",
		ColumnCreatedBy+" UUID",
		ColumnUpdatedAt+" TIMESTAMPTZ",
		ColumnUpdatedBy+" UUID",
		ColumnDeletedAt+" TIMESTAMPTZ",
		ColumnDeletedBy+" UUID",
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);\n", Table(e), strings.Join(cols, ",\n    ")), nil
}

// uuidPattern matches the canonical text form of a UUID.
const uuidPattern = `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`

// resolverDDL renders the identity helper. The reference is cast to UUID so
// the unique index on id serves the lookup; text that is not a UUID
// resolves to nothing instead of raising.
func resolverDDL(e *ir.EntityDefinition) string {
	var where []string
	where = append(where, fmt.Sprintf("%s = CASE WHEN p_ref ~* %s THEN p_ref::UUID END", ColumnID, plsql.Literal(uuidPattern)))
	params := "p_ref TEXT"
	if e.TenantScoped {
		params += ", p_tenant_id UUID"
		where = append(where, ColumnTenantID+" = p_tenant_id")
	}
	if e.SoftDelete {
		where = append(where, ColumnDeletedAt+" IS NULL")
	}
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(%s) RETURNS INTEGER
LANGUAGE sql STABLE
AS $$
    SELECT %s FROM %s WHERE %s
$$;
`, ResolverFunction(e), params, PKColumn(e), Table(e), strings.Join(where, " AND "))
}
