// Package placement decides where each generated artifact is written.
//
// Allocation is a pure function of the artifact's identity: the same model
// always yields the same paths, so regenerated files overwrite their
// predecessors and the manifest can key on path.
package placement

import (
	"fmt"
	"path"
	"strings"

	"github.com/roach88/actionc/internal/ir"
)

// Layer names one kind of generated SQL.
type Layer string

const (
	LayerFoundation Layer = "foundation"
	LayerScaffold   Layer = "scaffold"
	LayerInputType  Layer = "input"
	LayerCore       Layer = "core"
	LayerWrapper    Layer = "wrapper"
)

// Artifact identifies a generated file.
// Entity, Schema and Action are empty for model-wide layers.
type Artifact struct {
	Layer  Layer
	Schema string
	Entity string
	Action string
	// Index is the action's 1-based position within its entity.
	Index int
}

// Allocator maps artifacts to slash-separated relative paths.
// Implementations must be deterministic and injective.
type Allocator interface {
	Allocate(a Artifact) (string, error)
}

// Hierarchical lays files out as <root>/<schema>/<entity>/<NN>_<action>.<layer>.sql
// with model-wide files at the root.
type Hierarchical struct {
	Root string
}

// Allocate implements Allocator.
func (h Hierarchical) Allocate(a Artifact) (string, error) {
	if name, ok, err := modelWide(a); ok || err != nil {
		return path.Join(h.Root, name), err
	}
	if err := checkAction(a); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%02d_%s.%s.sql", a.Index, a.Action, a.Layer)
	return path.Join(h.Root, a.Schema, ir.SnakeCase(a.Entity), file), nil
}

// Flat writes every file directly under Root, prefixed by schema and entity.
type Flat struct {
	Root string
}

// Allocate implements Allocator.
func (f Flat) Allocate(a Artifact) (string, error) {
	if name, ok, err := modelWide(a); ok || err != nil {
		return path.Join(f.Root, name), err
	}
	if err := checkAction(a); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%s_%s_%02d_%s.%s.sql", a.Schema, ir.SnakeCase(a.Entity), a.Index, a.Action, a.Layer)
	return path.Join(f.Root, file), nil
}

// New returns the allocator registered under kind.
func New(kind, root string) (Allocator, error) {
	switch strings.ToLower(kind) {
	case "", "hierarchical":
		return Hierarchical{Root: root}, nil
	case "flat":
		return Flat{Root: root}, nil
	default:
		return nil, fmt.Errorf("unknown placement %q (want hierarchical or flat)", kind)
	}
}

// modelWide handles the layers that belong to no action.
func modelWide(a Artifact) (string, bool, error) {
	switch a.Layer {
	case LayerFoundation:
		return "000_foundation.sql", true, nil
	case LayerScaffold:
		return "001_scaffold.sql", true, nil
	case LayerInputType, LayerCore, LayerWrapper:
		return "", false, nil
	default:
		return "", true, fmt.Errorf("unknown layer %q", a.Layer)
	}
}

func checkAction(a Artifact) error {
	switch {
	case !ir.IsIdentifier(a.Schema):
		return fmt.Errorf("%s.%s: invalid schema %q", a.Entity, a.Action, a.Schema)
	case !ir.IsEntityName(a.Entity):
		return fmt.Errorf("invalid entity %q", a.Entity)
	case !ir.IsIdentifier(a.Action):
		return fmt.Errorf("%s: invalid action %q", a.Entity, a.Action)
	case a.Index < 1 || a.Index > 99:
		return fmt.Errorf("%s.%s: index %d out of range 1-99", a.Entity, a.Action, a.Index)
	}
	return nil
}
