package testutil

import "github.com/roach88/actionc/internal/ir"

// CRMModel returns a small CRM model exercising every step kind, every
// cascade scope and both failure policies:
//
//	Company 1─* Contact 1─* Deal
//
// Each call returns a fresh copy, so tests may modify it.
func CRMModel() *ir.Model {
	return &ir.Model{Entities: []ir.EntityDefinition{company(), contact(), deal()}}
}

func company() ir.EntityDefinition {
	return ir.EntityDefinition{
		Name:         "Company",
		Schema:       "crm",
		Description:  "A customer organisation.",
		TenantScoped: true,
		SoftDelete:   true,
		Fields: []ir.FieldDefinition{
			{Name: "name", Type: ir.TypeText},
			{Name: "contact_count", Type: ir.TypeInteger, Nullable: true},
		},
		Actions: []ir.ActionSpec{
			{
				Name:   "create_company",
				Params: []ir.Param{{Name: "name", Type: ir.TypeText}},
				Steps: []ir.Step{
					ir.Insert{Target: "Company", Fields: []ir.Assignment{
						{Field: "name", Value: "input.name"},
						{Field: "contact_count", Value: "0"},
					}},
				},
			},
			{
				Name:        "refresh_stats",
				Description: "Counts one more contact unless the company is frozen.",
				Steps: []ir.Step{
					ir.Validate{Condition: `name != "frozen"`, Code: "company_frozen", Message: "company is frozen"},
					ir.Update{Target: "Company", Fields: []ir.Assignment{
						{Field: "contact_count", Value: "contact_count == null ? 1 : contact_count + 1"},
					}},
				},
			},
			{
				Name:  "close_company",
				Steps: []ir.Step{ir.Delete{Target: "Company"}},
			},
		},
		Cascades: []ir.CascadeRule{
			{
				Name:    "archive_contacts",
				Trigger: ir.AfterDelete,
				Scope:   ir.ScopeRelated,
				Entity:  "Contact",
				Via:     "company",
				Target:  "Contact.archive_contact",
				Policy:  ir.PolicyPropagate,
			},
		},
	}
}

func contact() ir.EntityDefinition {
	return ir.EntityDefinition{
		Name:         "Contact",
		Schema:       "crm",
		TenantScoped: true,
		SoftDelete:   true,
		Fields: []ir.FieldDefinition{
			{Name: "first_name", Type: ir.TypeText},
			{Name: "email", Type: ir.TypeEmail},
			{Name: "status", Type: ir.TypeEnum, Values: []string{"lead", "qualified", "customer"}},
			{Name: "company", Type: ir.TypeRef, Ref: "Company", Nullable: true},
		},
		Actions: []ir.ActionSpec{
			{
				Name: "create_contact",
				Params: []ir.Param{
					{Name: "first_name", Type: ir.TypeText},
					{Name: "email", Type: ir.TypeEmail},
					{Name: "company_id", Type: ir.TypeUUID, Nullable: true},
				},
				Steps: []ir.Step{
					ir.Validate{Condition: `input.email.contains("@")`, Code: "invalid_email", Message: "email must contain @"},
					ir.Insert{Target: "Contact", Fields: []ir.Assignment{
						{Field: "first_name", Value: "input.first_name"},
						{Field: "email", Value: "input.email"},
						{Field: "status", Value: `"lead"`},
						{Field: "company", Value: "input.company_id"},
					}},
				},
				Impacts: []ir.ImpactDecl{{Entity: "Contact", Operation: ir.OpInsert}},
			},
			{
				Name: "qualify_lead",
				Steps: []ir.Step{
					ir.Validate{Condition: `status == "lead"`, Code: "not_a_lead", Message: "only leads can be qualified"},
					ir.Update{Target: "Contact", Fields: []ir.Assignment{{Field: "status", Value: `"qualified"`}}},
				},
			},
			{
				Name:  "archive_contact",
				Steps: []ir.Step{ir.Delete{Target: "Contact"}},
			},
			{
				Name:   "assign_company",
				Params: []ir.Param{{Name: "company_id", Type: ir.TypeUUID}},
				Steps: []ir.Step{
					ir.Update{Target: "Contact", Fields: []ir.Assignment{{Field: "company", Value: "input.company_id"}}},
				},
			},
			{
				Name:   "bulk_qualify",
				Params: []ir.Param{{Name: "email_domain", Type: ir.TypeText}},
				Steps: []ir.Step{
					ir.Update{
						Target: "Contact",
						Fields: []ir.Assignment{{Field: "status", Value: `"qualified"`}},
						Filter: `email.endsWith(input.email_domain) && status == "lead"`,
					},
				},
			},
			{
				Name:   "import_contacts",
				Params: []ir.Param{{Name: "rows", Type: ir.TypeJSONB}},
				Steps: []ir.Step{
					ir.Foreach{
						Var:        "row",
						Collection: ir.InputList{Param: "rows"},
						Body: []ir.Step{
							ir.Insert{Target: "Contact", Bind: "imported", Fields: []ir.Assignment{
								{Field: "first_name", Value: "row.first_name"},
								{Field: "email", Value: "row.email"},
								{Field: "status", Value: `"lead"`},
							}},
						},
					},
					ir.Return{Expression: `{"imported": size(input.rows)}`},
				},
			},
			{
				Name: "open_deal",
				Params: []ir.Param{
					{Name: "title", Type: ir.TypeText},
					{Name: "amount", Type: ir.TypeNumeric},
				},
				Steps: []ir.Step{
					ir.Validate{Condition: "input.amount > 0", Code: "invalid_amount", Message: "amount must be positive"},
					ir.Insert{Target: "Deal", Fields: []ir.Assignment{
						{Field: "title", Value: "input.title"},
						{Field: "amount", Value: "input.amount"},
						{Field: "stage", Value: `"open"`},
						{Field: "contact", Value: "contact.id"},
					}},
					ir.Return{Expression: "new_deal"},
				},
			},
			{
				Name: "create_with_company",
				Params: []ir.Param{
					{Name: "company_name", Type: ir.TypeText},
					{Name: "first_name", Type: ir.TypeText},
					{Name: "email", Type: ir.TypeEmail},
				},
				Steps: []ir.Step{
					ir.Insert{Target: "Company", Fields: []ir.Assignment{
						{Field: "name", Value: "input.company_name"},
						{Field: "contact_count", Value: "0"},
					}},
					ir.Insert{Target: "Contact", Fields: []ir.Assignment{
						{Field: "first_name", Value: "input.first_name"},
						{Field: "email", Value: "input.email"},
						{Field: "status", Value: `"lead"`},
						{Field: "company", Value: "new_company.id"},
					}},
				},
				Impacts: []ir.ImpactDecl{
					{Entity: "Company", Operation: ir.OpInsert},
					{Entity: "Contact", Operation: ir.OpInsert},
				},
			},
			{
				Name: "close_open_deals",
				Steps: []ir.Step{
					ir.Foreach{
						Var:        "deal",
						Collection: ir.RelatedRows{Entity: "Deal"},
						Body: []ir.Step{
							ir.Branch{
								Condition: `deal.stage == "open"`,
								Then: []ir.Step{
									ir.Update{
										Target: "Deal",
										Fields: []ir.Assignment{{Field: "stage", Value: `"lost"`}},
										Filter: "id == deal.id",
									},
								},
							},
						},
					},
					ir.Notify{Channel: "contact_deals_closed", Payload: map[string]string{"contact_id": "id"}},
				},
			},
		},
		Cascades: []ir.CascadeRule{
			{
				Name:    "log_change",
				Trigger: ir.AfterUpdate,
				Scope:   ir.ScopeSelf,
				Target:  "crm.log_contact_change",
				Params:  map[string]string{"status": "status"},
				Policy:  ir.PolicyIgnore,
			},
			{
				Name:    "bump_company",
				Trigger: ir.AfterCreate,
				Scope:   ir.ScopeParent,
				Via:     "company",
				Target:  "Company.refresh_stats",
				Policy:  ir.PolicyIgnore,
			},
		},
	}
}

func deal() ir.EntityDefinition {
	return ir.EntityDefinition{
		Name:         "Deal",
		Schema:       "crm",
		TenantScoped: true,
		Fields: []ir.FieldDefinition{
			{Name: "title", Type: ir.TypeText},
			{Name: "amount", Type: ir.TypeNumeric},
			{Name: "stage", Type: ir.TypeEnum, Values: []string{"open", "won", "lost"}},
			{Name: "contact", Type: ir.TypeRef, Ref: "Contact"},
			{Name: "invoice_no", Type: ir.TypeText, Nullable: true},
		},
		Actions: []ir.ActionSpec{
			{
				Name: "win_deal",
				Steps: []ir.Step{
					ir.Validate{Condition: `stage == "open"`, Code: "deal_not_open", Message: "only open deals can be won"},
					ir.Call{Function: "crm.next_invoice_number", Args: []string{"caller.tenant_id"}, Bind: "invoice", BindType: ir.TypeText},
					ir.Update{Target: "Deal", Fields: []ir.Assignment{
						{Field: "stage", Value: `"won"`},
						{Field: "invoice_no", Value: "invoice"},
					}},
					ir.Notify{Channel: "deal_won", Payload: map[string]string{"deal_id": "id", "amount": "amount"}},
					ir.Return{Expression: `{"deal_id": id, "invoice": invoice}`},
				},
			},
			{
				Name:  "remove_deal",
				Steps: []ir.Step{ir.Delete{Target: "Deal"}},
			},
		},
	}
}

// CRMFixtureSQL creates the external collaborators the CRM model calls:
// the contact change log cascade target and the invoice number function.
// It must run after the foundation and the table scaffold.
const CRMFixtureSQL = `CREATE TABLE IF NOT EXISTS crm.contact_log (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    tenant_id UUID,
    fk_contact INTEGER NOT NULL,
    params JSONB,
    logged_by UUID,
    logged_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION crm.log_contact_change(
    auth_tenant_id UUID,
    p_pk INTEGER,
    p_params JSONB,
    auth_user_id UUID
) RETURNS app.mutation_result
LANGUAGE plpgsql
AS $$
BEGIN
    INSERT INTO crm.contact_log (tenant_id, fk_contact, params, logged_by)
    VALUES (auth_tenant_id, p_pk, p_params, auth_user_id);
    RETURN app.mutation_succeeded(NULL, NULL, '[]'::JSONB);
END;
$$;

CREATE SEQUENCE IF NOT EXISTS crm.invoice_seq;

CREATE OR REPLACE FUNCTION crm.next_invoice_number(p_tenant UUID) RETURNS TEXT
LANGUAGE sql
AS $$
    SELECT 'INV-' || lpad(nextval('crm.invoice_seq')::TEXT, 6, '0')
$$;
`
