package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actionc/internal/ir"
)

func relatedDeals() Select {
	return Select{
		From: "crm.tb_deal",
		Filter: And{Predicates: []Predicate{
			BoundEquals{Field: "fk_contact", BoundVar: "v_contact.pk_contact"},
			BoundEquals{Field: "tenant_id", BoundVar: "auth_tenant_id"},
			Equals{Field: "stage", Value: ir.IRString("open")},
			IsNull{Field: "deleted_at"},
		}},
		OrderBy: "pk_deal",
	}
}

func TestValidate_ValidQuery(t *testing.T) {
	result := Validate(relatedDeals())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Problems)
}

func TestValidate_PointerVariants(t *testing.T) {
	sel := relatedDeals()
	sel.Filter = &And{Predicates: []Predicate{
		&BoundEquals{Field: "fk_contact", BoundVar: "v_contact.pk_contact"},
		&Equals{Field: "stage", Value: ir.IRString("open")},
		&IsNull{Field: "deleted_at"},
	}}

	result := Validate(&sel)
	assert.True(t, result.Valid, result.Problems)
}

func TestValidate_MissingOrderBy(t *testing.T) {
	sel := relatedDeals()
	sel.OrderBy = ""

	result := Validate(sel)
	assert.False(t, result.Valid)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "ORDER BY")
}

func TestValidate_NullValue(t *testing.T) {
	sel := relatedDeals()
	sel.Filter = Equals{Field: "deleted_at", Value: ir.IRNull{}}

	result := Validate(sel)
	assert.False(t, result.Valid)
	require.Len(t, result.Problems, 1)
	assert.Contains(t, result.Problems[0], "use IsNull")
}

func TestValidate_MultipleProblems(t *testing.T) {
	result := Validate(Select{
		Filter: And{Predicates: []Predicate{
			Equals{Field: "Bad Column", Value: ir.IRArray{}},
			BoundEquals{Field: "fk_contact"},
		}},
		Bindings: map[string]string{"id": "x-y"},
	})

	assert.False(t, result.Valid)
	// no table, no order, binding, column name, composite value, empty bound var
	assert.Len(t, result.Problems, 6)
}

func TestValidate_NilQuery(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"nil query"}, result.Problems)
}

func TestValidate_EmptyAndPredicate(t *testing.T) {
	sel := relatedDeals()
	sel.Filter = And{}
	assert.True(t, Validate(sel).Valid)
}

func TestValidate_Idempotent(t *testing.T) {
	sel := relatedDeals()
	assert.Equal(t, Validate(sel), Validate(sel))
}
