// Package harness runs conformance scenarios against generated actions.
//
// A scenario prepares rows with SQL, invokes wrapper functions and checks
// the returned results, the invocation trace and the final table state.
// Scenarios run through a Runner; *pgexec.Executor is the production one.
//
// # Scenario Format
//
//	name: qualify_lead_rejects_customer
//	description: "A customer cannot be qualified again"
//	tenant_id: 00000000-0000-4000-8000-000000000001  # optional
//	setup:
//	  - INSERT INTO crm.tb_contact (id, tenant_id, first_name, email, status)
//	    VALUES ('...', '${tenant_id}', 'Ann', 'ann@example.com', 'customer')
//	flow:
//	  - invoke: qualify_lead
//	    input: { contact_id: "..." }
//	    save_as: contact
//	    expect:
//	      status: error
//	      code: not_a_lead
//	assertions:
//	  - type: final_state
//	    table: crm.tb_contact
//	    where: { id: "..." }
//	    expect: { status: customer }
//
// save_as stores the result id under a name; save stores other values
// ("name: data.<key>"). ${tenant_id}, ${user_id} and every saved name
// expand in setup SQL, flow input strings, expected data, where values and
// final_state expectations. A flow step without expect must succeed.
//
// # Assertion Types
//
//   - trace_contains: an invocation with matching input (and code)
//   - trace_order: actions appear in the specified order
//   - trace_count: an action appears exactly N times
//   - final_state: exactly one row matches and holds the expected values
//   - row_count: N rows match
//
// Tenant ids default to fresh UUIDs, so scenarios sharing a database do
// not see each other's rows.
package harness
