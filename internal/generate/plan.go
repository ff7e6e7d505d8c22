package generate

import (
	"fmt"

	"github.com/roach88/actionc/internal/compiler"
	"github.com/roach88/actionc/internal/ir"
)

// PlanRule is one cascade an action fires.
type PlanRule struct {
	Entity  string `json:"entity"`
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
	Scope   string `json:"scope"`
	Target  string `json:"target"`
	Policy  string `json:"policy"`
}

// PlanEntry summarizes one action without compiling its body.
type PlanEntry struct {
	Entity      string     `json:"entity"`
	Action      string     `json:"action"`
	Wrapper     string     `json:"wrapper"`
	Core        string     `json:"core"`
	InputType   string     `json:"input_type"`
	TakesOwnRow bool       `json:"takes_own_row"`
	Impacts     []string   `json:"impacts"`
	Cascades    []PlanRule `json:"cascades"`
	Calls       []string   `json:"calls"`
}

// Plan describes what generation would produce for every action of c's
// model, in declaration order.
func Plan(c *compiler.Compiler) []PlanEntry {
	m := c.Model()
	var out []PlanEntry
	for i := range m.Entities {
		e := &m.Entities[i]
		for j := range e.Actions {
			a := &e.Actions[j]
			entry := PlanEntry{
				Entity:      e.Name,
				Action:      a.Name,
				Wrapper:     "app." + a.Name,
				Core:        e.Schema + "." + a.Name,
				InputType:   compiler.InputTypeName(a.Name),
				TakesOwnRow: c.TakesOwnRow(e.Name, a.Name),
				Impacts:     impacts(a),
				Cascades:    []PlanRule{},
				Calls:       compiler.CascadeCalls(m, e, a),
			}
			for _, fr := range compiler.FiredRules(m, e, a) {
				entry.Cascades = append(entry.Cascades, PlanRule{
					Entity:  fr.Entity,
					Name:    fr.Rule.Name,
					Trigger: string(fr.Rule.Trigger),
					Scope:   string(fr.Rule.Scope),
					Target:  fr.Rule.Target,
					Policy:  string(fr.Rule.Policy),
				})
			}
			out = append(out, entry)
		}
	}
	return out
}

func impacts(a *ir.ActionSpec) []string {
	out := make([]string, len(a.Impacts))
	for i, imp := range a.Impacts {
		out[i] = fmt.Sprintf("%s:%s", imp.Entity, imp.Operation)
	}
	return out
}
