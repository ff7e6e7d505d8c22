package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/actionc/internal/ir"
)

// CycleWarning represents a potential cycle in cascade rules.
//
// A cycle is a rule whose target action performs a mutation that fires the
// rule again, directly or through other rules. Cycles may terminate through
// validations in the target actions, so by default they are warnings.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Contact.bump", "Company.notify", "Contact.bump"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// Firing is a trigger point reached by a mutation.
type Firing struct {
	Entity  string
	Trigger ir.Trigger
}

// Firings lists the trigger points an action's own steps reach, sorted.
// Filtered mutations fire once per changed row, so they count too.
func Firings(e *ir.EntityDefinition, a *ir.ActionSpec) []Firing {
	seen := make(map[Firing]bool)
	ir.WalkSteps(a.Steps, func(s ir.Step) {
		switch v := s.(type) {
		case ir.Insert:
			seen[Firing{v.Target, ir.AfterCreate}] = true
		case ir.Update:
			seen[Firing{v.Target, ir.AfterUpdate}] = true
		case ir.Delete:
			seen[Firing{v.Target, ir.AfterDelete}] = true
		}
	})
	out := make([]Firing, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Trigger < out[j].Trigger
	})
	return out
}

// CascadeCalls lists the "Entity.action" cores an action invokes through
// cascades, sorted. External function targets are not included.
func CascadeCalls(m *ir.Model, e *ir.EntityDefinition, a *ir.ActionSpec) []string {
	seen := make(map[string]bool)
	for _, f := range Firings(e, a) {
		target := m.Entity(f.Entity)
		if target == nil {
			continue
		}
		for _, r := range rulesFor(target, f.Trigger) {
			if isActionTarget(r.Target) {
				seen[r.Target] = true
			}
		}
	}
	return sortedKeys(seen)
}

// FiredRule is a cascade rule reached by an action, with its owning entity.
type FiredRule struct {
	Entity string
	Rule   ir.CascadeRule
}

// FiredRules lists every rule an action fires, grouped by firing and in
// execution order within each firing.
func FiredRules(m *ir.Model, e *ir.EntityDefinition, a *ir.ActionSpec) []FiredRule {
	var out []FiredRule
	for _, f := range Firings(e, a) {
		target := m.Entity(f.Entity)
		if target == nil {
			continue
		}
		for _, r := range rulesFor(target, f.Trigger) {
			out = append(out, FiredRule{Entity: f.Entity, Rule: r})
		}
	}
	return out
}

// AnalyzeCycles performs static cycle analysis on cascade rules.
//
// The algorithm:
//  1. Build a rule → rule graph: rule R points at every rule fired by the
//     mutations of R's target action
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// Nodes and edges are visited in sorted order so the same model always
// yields the same warnings. A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(m *ir.Model) []CycleWarning {
	graph := buildDependencyGraph(m)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Path[0] < warnings[j].Path[0]
	})
	return warnings
}

// dependencyGraph maps rule id ("Entity.rule") → rule ids it can fire.
type dependencyGraph map[string][]string

func ruleID(entity, rule string) string {
	return entity + "." + rule
}

// buildDependencyGraph constructs the cascade rule dependency graph.
//
// For each rule with an action target:
//   - Find the trigger points the target action's mutations reach
//   - Add edges: this rule → every rule declared for those trigger points
//
// External function targets are opaque and have no outgoing edges.
func buildDependencyGraph(m *ir.Model) dependencyGraph {
	graph := make(dependencyGraph)

	for i := range m.Entities {
		e := &m.Entities[i]
		for _, r := range e.Cascades {
			id := ruleID(e.Name, r.Name)
			if graph[id] == nil {
				graph[id] = []string{}
			}
			if !isActionTarget(r.Target) {
				continue
			}
			entityName, actionName, _ := ir.SplitTarget(r.Target)
			target := m.Entity(entityName)
			if target == nil || target.Action(actionName) == nil {
				continue
			}
			seen := make(map[string]bool)
			for _, f := range Firings(target, target.Action(actionName)) {
				fired := m.Entity(f.Entity)
				if fired == nil {
					continue
				}
				for _, next := range rulesFor(fired, f.Trigger) {
					seen[ruleID(fired.Name, next.Name)] = true
				}
			}
			graph[id] = sortedKeys(seen)
		}
	}

	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a sorted list of rule ids.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
// For self-loops, the path is [rule, rule].
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("Self-triggering cascade rule detected: %s → %s", id, id),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cascade cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: start at the first (smallest) node, follow edges to other SCC
// members, continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
