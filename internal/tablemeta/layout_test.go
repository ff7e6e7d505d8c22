package tablemeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actionc/internal/ir"
)

func TestNaming(t *testing.T) {
	e := &ir.EntityDefinition{Name: "SalesOrder", Schema: "shop"}
	assert.Equal(t, "shop.tb_sales_order", Table(e))
	assert.Equal(t, "pk_sales_order", PKColumn(e))
	assert.Equal(t, "shop.sales_order_pk", ResolverFunction(e))
	assert.Equal(t, "fk_customer", FKColumn("customer"))

	ref := &ir.FieldDefinition{Name: "customer", Type: ir.TypeRef, Ref: "Customer"}
	plain := &ir.FieldDefinition{Name: "total", Type: ir.TypeNumeric}
	assert.Equal(t, "fk_customer", Column(ref))
	assert.Equal(t, "total", Column(plain))
}

func TestSQLType(t *testing.T) {
	tests := []struct {
		in   ir.FieldType
		want string
	}{
		{ir.TypeText, "TEXT"},
		{ir.TypeEmail, "TEXT"},
		{ir.TypeEnum, "TEXT"},
		{ir.TypeInteger, "INTEGER"},
		{ir.TypeRef, "INTEGER"},
		{ir.TypeBigint, "BIGINT"},
		{ir.TypeNumeric, "NUMERIC"},
		{ir.TypeBoolean, "BOOLEAN"},
		{ir.TypeDate, "DATE"},
		{ir.TypeTimestamp, "TIMESTAMPTZ"},
		{ir.TypeUUID, "UUID"},
		{ir.TypeJSONB, "JSONB"},
	}
	for _, tt := range tests {
		got, err := SQLType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := SQLType("money")
	assert.Error(t, err)
}

// Every valid field type has a storage type.
func TestSQLType_CoversValidTypes(t *testing.T) {
	for ft := range ir.ValidFieldTypes {
		_, err := SQLType(ft)
		assert.NoError(t, err, ft)
	}
}

func TestTrinityResolver(t *testing.T) {
	r := NewTrinityResolver()

	scoped := &ir.EntityDefinition{Name: "Company", Schema: "crm", TenantScoped: true}
	got, err := r.ResolveExpr(scoped, "input_data.company_id")
	require.NoError(t, err)
	assert.Equal(t, "crm.company_pk((input_data.company_id)::TEXT, auth_tenant_id)", got)

	global := &ir.EntityDefinition{Name: "Country", Schema: "ref"}
	got, err = r.ResolveExpr(global, "v_row.country")
	require.NoError(t, err)
	assert.Equal(t, "ref.country_pk((v_row.country)::TEXT)", got)

	_, err = r.ResolveExpr(nil, "x")
	assert.Error(t, err)
	_, err = r.ResolveExpr(scoped, "")
	assert.Error(t, err)
}

func TestTrinityResolver_CustomTenantArg(t *testing.T) {
	r := &TrinityResolver{TenantArg: "p_tenant"}
	got, err := r.ResolveExpr(&ir.EntityDefinition{Name: "Deal", Schema: "crm", TenantScoped: true}, "x")
	require.NoError(t, err)
	assert.Equal(t, "crm.deal_pk((x)::TEXT, p_tenant)", got)
}
