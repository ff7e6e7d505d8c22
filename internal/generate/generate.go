// Package generate turns a compiled model into ordered, placed SQL files.
//
// Generation has two halves. Generate is pure: it compiles every entity,
// orders the artifacts so that each file only depends on files before it
// and allocates a path for each one. Write is the side effect: it puts the
// files on disk and keeps the manifest in step, skipping files whose
// content is unchanged.
//
// Apply order:
//
//	foundation   shared app schema, result type and helpers
//	scaffold     tables and identity helpers (optional)
//	input types  one composite per action
//	cores        cascade targets before their callers
//	wrappers     app.<action> entry points
package generate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/actionc/internal/compiler"
	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/placement"
	"github.com/roach88/actionc/internal/tablemeta"
)

// Options configures Generate.
type Options struct {
	// Allocator places files. Defaults to placement.Hierarchical{}.
	Allocator placement.Allocator

	// Scaffold includes table DDL and identity helpers after the foundation.
	Scaffold bool

	// Parallelism bounds concurrent entity compilation.
	// Defaults to runtime.GOMAXPROCS(0).
	Parallelism int

	Logger *zap.Logger
}

// File is one placed artifact.
type File struct {
	Path     string
	Layer    placement.Layer
	Entity   string
	Action   string
	Content  string
	SpecHash string
}

// Diagnostic is a compiler diagnostic tagged with its action.
type Diagnostic struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	compiler.Diagnostic
}

// Result is the output of one generation.
type Result struct {
	// Files are in apply order.
	Files       []File
	Diagnostics []Diagnostic
	Cycles      []compiler.CycleWarning
}

// SQL concatenates every file in apply order.
func (r *Result) SQL() string {
	var b strings.Builder
	for i, f := range r.Files {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(f.Content)
	}
	return b.String()
}

// Paths returns the path of every file in apply order.
func (r *Result) Paths() []string {
	out := make([]string, len(r.Files))
	for i, f := range r.Files {
		out[i] = f.Path
	}
	return out
}

// entityOutput is what one worker produces.
type entityOutput struct {
	entity   *ir.EntityDefinition
	specHash string
	arts     []*compiler.ActionArtifacts
}

// Generate compiles every action of c's model and returns the files in
// apply order. It touches nothing outside memory.
func Generate(ctx context.Context, c *compiler.Compiler, opts Options) (*Result, error) {
	if opts.Allocator == nil {
		opts.Allocator = placement.Hierarchical{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	m := c.Model()
	outputs := make([]entityOutput, len(m.Entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i := range m.Entities {
		e := &m.Entities[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, err := ir.EntityHash(e)
			if err != nil {
				return err
			}
			arts, err := c.CompileEntity(e.Name)
			if err != nil {
				return err
			}
			outputs[i] = entityOutput{entity: e, specHash: hash, arts: arts}
			log.Debug("compiled entity",
				zap.String("entity", e.Name),
				zap.Int("actions", len(arts)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Cycles: c.CycleWarnings()}
	for _, w := range res.Cycles {
		log.Warn("cascade cycle", zap.Strings("path", w.Path))
	}

	model, err := modelHash(outputs)
	if err != nil {
		return nil, err
	}
	add := func(a placement.Artifact, content, specHash string) error {
		p, err := opts.Allocator.Allocate(a)
		if err != nil {
			return fmt.Errorf("place %s: %w", describe(a), err)
		}
		res.Files = append(res.Files, File{
			Path:     p,
			Layer:    a.Layer,
			Entity:   a.Entity,
			Action:   a.Action,
			Content:  content,
			SpecHash: specHash,
		})
		return nil
	}

	if err := add(placement.Artifact{Layer: placement.LayerFoundation}, compiler.Foundation(), ir.ArtifactHash(ir.CompilerVersion)); err != nil {
		return nil, err
	}
	if opts.Scaffold {
		ddl, err := tablemeta.Scaffold(m)
		if err != nil {
			return nil, fmt.Errorf("scaffold: %w", err)
		}
		if err := add(placement.Artifact{Layer: placement.LayerScaffold}, ddl, model); err != nil {
			return nil, err
		}
	}

	type placed struct {
		art      *compiler.ActionArtifacts
		artifact placement.Artifact
		specHash string
	}
	var all []placed
	for _, out := range outputs {
		for j, art := range out.arts {
			all = append(all, placed{
				art: art,
				artifact: placement.Artifact{
					Schema: out.entity.Schema,
					Entity: out.entity.Name,
					Action: art.Action,
					Index:  j + 1,
				},
				specHash: out.specHash,
			})
			for _, d := range art.Diagnostics {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{Entity: art.Entity, Action: art.Action, Diagnostic: d})
				log.Warn("compile diagnostic",
					zap.String("action", art.Entity+"."+art.Action),
					zap.String("field", d.Field),
					zap.String("message", d.Message))
			}
		}
	}

	for _, p := range all {
		a := p.artifact
		a.Layer = placement.LayerInputType
		if err := add(a, p.art.InputType, p.specHash); err != nil {
			return nil, err
		}
	}

	arts := make([]*compiler.ActionArtifacts, len(all))
	for i, p := range all {
		arts[i] = p.art
	}
	order, leftover := CoreOrder(arts)
	if len(leftover) > 0 {
		log.Warn("cascade calls form a cycle; cores created in declaration order",
			zap.Strings("actions", leftover))
	}
	for _, i := range order {
		a := all[i].artifact
		a.Layer = placement.LayerCore
		if err := add(a, all[i].art.Core, all[i].specHash); err != nil {
			return nil, err
		}
	}

	for _, p := range all {
		a := p.artifact
		a.Layer = placement.LayerWrapper
		if err := add(a, p.art.Wrapper, p.specHash); err != nil {
			return nil, err
		}
	}

	log.Info("generated",
		zap.Int("entities", len(m.Entities)),
		zap.Int("files", len(res.Files)),
		zap.Int("diagnostics", len(res.Diagnostics)))
	return res, nil
}

// CoreOrder returns indexes into arts such that every action comes after the
// cores its cascades call. Ties keep declaration order. Actions caught in a
// call cycle are appended in declaration order and named in leftover.
func CoreOrder(arts []*compiler.ActionArtifacts) (order []int, leftover []string) {
	index := make(map[string]int, len(arts))
	for i, a := range arts {
		index[a.Entity+"."+a.Action] = i
	}

	indegree := make([]int, len(arts))
	dependents := make([][]int, len(arts))
	for i, a := range arts {
		for _, call := range a.Calls {
			j, ok := index[call]
			if !ok || j == i {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	// Kahn's algorithm with the ready set kept sorted by declaration index.
	var ready []int
	for i := range arts {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	done := make([]bool, len(arts))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		done[i] = true
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
				sort.Ints(ready)
			}
		}
	}

	for i, a := range arts {
		if !done[i] {
			order = append(order, i)
			leftover = append(leftover, a.Entity+"."+a.Action)
		}
	}
	return order, leftover
}

// modelHash identifies the whole model for model-wide artifacts.
func modelHash(outputs []entityOutput) (string, error) {
	hashes := make([]string, len(outputs))
	for i, out := range outputs {
		if out.entity == nil {
			return "", fmt.Errorf("entity %d was not compiled", i)
		}
		hashes[i] = out.specHash
	}
	sort.Strings(hashes)
	return ir.ArtifactHash(strings.Join(hashes, "\n")), nil
}

func describe(a placement.Artifact) string {
	if a.Entity == "" {
		return string(a.Layer)
	}
	return fmt.Sprintf("%s.%s %s", a.Entity, a.Action, a.Layer)
}
