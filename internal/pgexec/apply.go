package pgexec

import (
	"context"

	"github.com/roach88/actionc/internal/generate"
	"github.com/roach88/actionc/internal/placement"
)

// ApplyResult applies a generation result in one transaction. Model-wide
// files (foundation and scaffold) go first, then fixtures, then the input
// types, cores and wrappers in generation order.
func (x *Executor) ApplyResult(ctx context.Context, res *generate.Result, fixtures ...string) error {
	var head, tail []string
	for _, f := range res.Files {
		switch f.Layer {
		case placement.LayerFoundation, placement.LayerScaffold:
			head = append(head, f.Content)
		default:
			tail = append(tail, f.Content)
		}
	}
	scripts := make([]string, 0, len(head)+len(fixtures)+len(tail))
	scripts = append(scripts, head...)
	scripts = append(scripts, fixtures...)
	scripts = append(scripts, tail...)
	return x.Apply(ctx, scripts...)
}
