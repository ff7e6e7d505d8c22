package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actionc/internal/ir"
)

func TestSelect_Construction(t *testing.T) {
	sel := Select{
		From:     "crm.tb_deal",
		Filter:   BoundEquals{Field: "fk_contact", BoundVar: "v_contact.pk_contact"},
		Bindings: map[string]string{"id": "id"},
		OrderBy:  "pk_deal",
	}

	assert.Equal(t, "crm.tb_deal", sel.From)
	assert.Equal(t, "pk_deal", sel.OrderBy)
	assert.NotNil(t, sel.Filter)
}

func TestQuery_SealedInterface(t *testing.T) {
	queries := []Query{Select{}, &Select{}}
	for _, q := range queries {
		switch q.(type) {
		case Select, *Select:
		default:
			t.Fatalf("unexpected query type %T", q)
		}
	}
}

func TestPredicate_SealedInterface(t *testing.T) {
	preds := []Predicate{
		Equals{}, &Equals{},
		BoundEquals{}, &BoundEquals{},
		IsNull{}, &IsNull{},
		And{}, &And{},
	}
	for _, p := range preds {
		switch p.(type) {
		case Equals, *Equals, BoundEquals, *BoundEquals, IsNull, *IsNull, And, *And:
		default:
			t.Fatalf("unexpected predicate type %T", p)
		}
	}
}

func TestAnd_NestedAnd(t *testing.T) {
	inner := And{Predicates: []Predicate{
		Equals{Field: "stage", Value: ir.IRString("open")},
		IsNull{Field: "deleted_at"},
	}}
	outer := And{Predicates: []Predicate{
		BoundEquals{Field: "tenant_id", BoundVar: "auth_tenant_id"},
		inner,
	}}

	require.Len(t, outer.Predicates, 2)
	nested, ok := outer.Predicates[1].(And)
	require.True(t, ok)
	assert.Len(t, nested.Predicates, 2)
}

func TestSelect_JSONMarshaling(t *testing.T) {
	sel := Select{
		From:     "crm.tb_contact",
		Bindings: map[string]string{"pk_contact": "pk", "id": "id"},
		OrderBy:  "pk_contact",
	}

	data, err := json.Marshal(sel)
	require.NoError(t, err)

	var back Select
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, sel.From, back.From)
	assert.Equal(t, sel.Bindings, back.Bindings)
	assert.Equal(t, sel.OrderBy, back.OrderBy)
}
