package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/testutil"
)

// modelErrors runs New and returns its validation errors.
func modelErrors(t *testing.T, m *ir.Model) []ir.ValidationError {
	t.Helper()
	_, err := New(m, Options{})
	require.Error(t, err)
	var me *ModelError
	require.True(t, errors.As(err, &me), "expected *ModelError, got %T: %v", err, err)
	return me.Errors
}

func findCode(errs []ir.ValidationError, code string) *ir.ValidationError {
	for i := range errs {
		if errs[i].Code == code {
			return &errs[i]
		}
	}
	return nil
}

func TestValidateModel_CRMIsValid(t *testing.T) {
	assert.Empty(t, ValidateModel(testutil.CRMModel()))
}

func TestValidateModel_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *ir.Model)
		code   string
		field  string
		want   string
	}{
		{
			name: "ref to unknown entity",
			mutate: func(m *ir.Model) {
				m.Entity("Deal").Field("contact").Ref = "Person"
			},
			code:  ErrUnknownEntity,
			field: "Deal.fields[3].ref",
			want:  `references unknown entity "Person"`,
		},
		{
			name: "step on unknown entity",
			mutate: func(m *ir.Model) {
				a := m.Entity("Deal").Action("remove_deal")
				a.Steps = append(a.Steps, ir.Delete{Target: "Invoice", Filter: "id == null"})
			},
			code:  ErrUnknownEntity,
			field: "Deal.actions[1].steps[1].target",
			want:  `unknown entity "Invoice"`,
		},
		{
			name: "impact on unknown entity",
			mutate: func(m *ir.Model) {
				a := m.Entity("Contact").Action("create_contact")
				a.Impacts = append(a.Impacts, ir.ImpactDecl{Entity: "Invoice", Operation: ir.OpInsert})
			},
			code:  ErrUnknownEntity,
			field: "Contact.actions[0].impacts[1].entity",
		},
		{
			name: "foreach over unknown entity",
			mutate: func(m *ir.Model) {
				a := m.Entity("Contact").Action("close_open_deals")
				fe := a.Steps[0].(ir.Foreach)
				fe.Collection = ir.RelatedRows{Entity: "Invoice"}
				a.Steps[0] = fe
			},
			code:  ErrUnknownEntity,
			field: "Contact.actions[8].steps[0].collection.entity",
		},
		{
			name: "duplicate entity",
			mutate: func(m *ir.Model) {
				m.Entities = append(m.Entities, ir.EntityDefinition{Name: "Deal", Schema: "sales"})
			},
			code:  ErrDuplicateEntity,
			field: "Deal",
		},
		{
			name: "action name shared across entities",
			mutate: func(m *ir.Model) {
				company := m.Entity("Company")
				company.Actions = append(company.Actions, ir.ActionSpec{
					Name:  "remove_deal",
					Steps: []ir.Step{ir.Delete{Target: "Company"}},
				})
			},
			code:  ErrDuplicateAction,
			field: "Deal.actions[1].name",
			want:  "also declared by Company",
		},
		{
			name: "unknown cascade target action",
			mutate: func(m *ir.Model) {
				m.Entity("Company").Cascades[0].Target = "Contact.forget"
			},
			code:  ErrUnknownTarget,
			field: "Company.cascades[0].target",
		},
		{
			name: "related rule without a reference back",
			mutate: func(m *ir.Model) {
				r := &m.Entity("Company").Cascades[0]
				r.Entity = "Deal"
				r.Via = ""
				r.Target = "Deal.remove_deal"
			},
			code:  ErrInvalidVia,
			field: "Company.cascades[0].via",
			want:  "Deal has no reference to Company",
		},
		{
			name: "parent via a plain field",
			mutate: func(m *ir.Model) {
				m.Entity("Contact").Cascades[1].Via = "email"
			},
			code:  ErrInvalidVia,
			field: "Contact.cascades[1].via",
			want:  `via "email" is not a reference field of Contact`,
		},
		{
			name: "related entity unknown",
			mutate: func(m *ir.Model) {
				m.Entity("Company").Cascades[0].Entity = "Person"
			},
			code:  ErrUnknownEntity,
			field: "Company.cascades[0].via",
		},
		{
			name: "structural error is prefixed with the entity",
			mutate: func(m *ir.Model) {
				m.Entity("Deal").Fields[0].Name = "Title"
			},
			code:  ir.ErrNameInvalid,
			field: "Deal.fields[0].name",
		},
		{
			name: "structural step error",
			mutate: func(m *ir.Model) {
				v := m.Entity("Deal").Action("win_deal").Steps[0].(ir.Validate)
				v.Code = "Not-Open"
				m.Entity("Deal").Action("win_deal").Steps[0] = v
			},
			code:  ir.ErrInvalidCode,
			field: "Deal.actions[0].steps[0].code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.CRMModel()
			tt.mutate(m)
			errs := modelErrors(t, m)
			got := findCode(errs, tt.code)
			require.NotNil(t, got, "no %s in %v", tt.code, errs)
			assert.Equal(t, tt.field, got.Field)
			if tt.want != "" {
				assert.Contains(t, got.Message, tt.want)
			}
		})
	}
}

func TestValidateModel_CollectsAll(t *testing.T) {
	m := testutil.CRMModel()
	m.Entity("Deal").Field("contact").Ref = "Person"
	m.Entity("Company").Cascades[0].Target = "Contact.forget"
	errs := ValidateModel(m)
	assert.NotNil(t, findCode(errs, ErrUnknownEntity))
	assert.NotNil(t, findCode(errs, ErrUnknownTarget))
}

func TestValidateContracts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *ir.Model)
		code   string
		field  string
		want   string
	}{
		{
			name: "target of another entity than the scope acts on",
			mutate: func(m *ir.Model) {
				m.Entity("Company").Cascades[0].Target = "Company.close_company"
			},
			code:  ErrCascadeTarget,
			field: "Company.cascades[0].target",
			want:  "related scope calls actions of Contact, not Company",
		},
		{
			name: "target that creates its own row",
			mutate: func(m *ir.Model) {
				m.Entity("Company").Cascades[0].Target = "Contact.create_contact"
			},
			code:  ErrCascadeTarget,
			field: "Company.cascades[0].target",
			want:  "does not act on an existing Contact row",
		},
		{
			name: "param the target does not declare",
			mutate: func(m *ir.Model) {
				m.Entity("Contact").Cascades[1].Params = map[string]string{"bogus": "first_name"}
			},
			code:  ErrCascadeParams,
			field: "Contact.cascades[1].params.bogus",
			want:  `has no param "bogus"`,
		},
		{
			name: "required target param not supplied",
			mutate: func(m *ir.Model) {
				m.Entity("Company").Cascades[0].Target = "Contact.assign_company"
			},
			code:  ErrCascadeParams,
			field: "Company.cascades[0].params",
			want:  `requires param "company_id"`,
		},
		{
			name: "param shadows the implicit id",
			mutate: func(m *ir.Model) {
				a := m.Entity("Contact").Action("qualify_lead")
				a.Params = append(a.Params, ir.Param{Name: "contact_id", Type: ir.TypeUUID})
			},
			code:  ErrImplicitIDCollision,
			field: "Contact.actions[1].params",
		},
		{
			name: "self delete rule acting on a hard-deleted row",
			mutate: func(m *ir.Model) {
				m.Entity("Deal").Cascades = []ir.CascadeRule{{
					Name:    "reopen",
					Trigger: ir.AfterDelete,
					Scope:   ir.ScopeSelf,
					Target:  "Deal.win_deal",
					Policy:  ir.PolicyPropagate,
				}}
			},
			code:  ErrDeletedRowTarget,
			field: "Deal.cascades[0].target",
			want:  "Deal rows are hard deleted",
		},
		{
			name: "unparseable expression",
			mutate: func(m *ir.Model) {
				m.Entity("Contact").Action("import_contacts").Steps[1] = ir.Return{Expression: "size(input.rows"}
			},
			code:  ErrInvalidExpression,
			field: "Contact.import_contacts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.CRMModel()
			tt.mutate(m)
			errs := modelErrors(t, m)
			got := findCode(errs, tt.code)
			require.NotNil(t, got, "no %s in %v", tt.code, errs)
			assert.Equal(t, tt.field, got.Field)
			if tt.want != "" {
				assert.Contains(t, got.Message, tt.want)
			}
		})
	}
}

// An action that inserts its own row does not take an implicit id, so a
// param of that name is allowed.
func TestValidateContracts_InsertingActionMayNameIDParam(t *testing.T) {
	m := testutil.CRMModel()
	a := m.Entity("Contact").Action("create_contact")
	a.Params = append(a.Params, ir.Param{Name: "contact_id", Type: ir.TypeUUID, Nullable: true})
	_, err := New(m, Options{})
	assert.NoError(t, err)
}

func TestModelError_Format(t *testing.T) {
	one := &ModelError{Errors: []ir.ValidationError{{Field: "Deal", Code: ErrDuplicateEntity, Message: "duplicate"}}}
	assert.Equal(t, "[E302] Deal: duplicate", one.Error())

	two := &ModelError{Errors: []ir.ValidationError{
		{Field: "a", Code: "E301", Message: "x"},
		{Field: "b", Code: "E304", Message: "y"},
	}}
	assert.Equal(t, "2 validation errors:\n  [E301] a: x\n  [E304] b: y", two.Error())
}

func TestCompileError_Format(t *testing.T) {
	err := &CompileError{Entity: "Contact", Action: "qualify_lead", Field: "steps[0].condition", Message: "boom"}
	assert.Equal(t, "Contact.qualify_lead: steps[0].condition: boom", err.Error())

	inner := errors.New("inner")
	wrapped := &CompileError{Entity: "Contact", Message: "outer", Err: inner}
	assert.Equal(t, "Contact: outer", wrapped.Error())
	assert.ErrorIs(t, wrapped, inner)
}
