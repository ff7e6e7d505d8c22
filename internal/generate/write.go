package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/store"
)

// Report lists what Write did, each slice in apply or path order.
type Report struct {
	Written   []string `json:"written"`
	Unchanged []string `json:"unchanged"`
	Removed   []string `json:"removed"`
}

// Writer puts generated files on disk under Dir.
type Writer struct {
	Dir string

	// Manifest is optional. Without it every file is rewritten and stale
	// files are never removed.
	Manifest *store.Store

	Logger *zap.Logger
}

// Write writes every file of res. A file is skipped when the manifest holds
// an identical record and the bytes on disk still match. Files recorded by
// an earlier generation that res no longer produces are deleted.
func (w *Writer) Write(ctx context.Context, res *Result) (*Report, error) {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rep := &Report{Written: []string{}, Unchanged: []string{}, Removed: []string{}}

	for _, f := range res.Files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec := store.Record{
			Path:            f.Path,
			Entity:          f.Entity,
			Action:          f.Action,
			Layer:           string(f.Layer),
			ContentHash:     ir.ArtifactHash(f.Content),
			SpecHash:        f.SpecHash,
			CompilerVersion: ir.CompilerVersion,
		}
		full := filepath.Join(w.Dir, filepath.FromSlash(f.Path))

		unchanged, err := w.unchanged(ctx, rec, full, f.Content)
		if err != nil {
			return rep, err
		}
		if unchanged {
			rep.Unchanged = append(rep.Unchanged, f.Path)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return rep, fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0o644); err != nil {
			return rep, fmt.Errorf("write %s: %w", f.Path, err)
		}
		if w.Manifest != nil {
			if err := w.Manifest.Put(ctx, rec); err != nil {
				return rep, err
			}
		}
		rep.Written = append(rep.Written, f.Path)
		log.Debug("wrote artifact", zap.String("path", f.Path), zap.String("layer", string(f.Layer)))
	}

	if w.Manifest != nil {
		stale, err := w.Manifest.Prune(ctx, res.Paths())
		if err != nil {
			return rep, err
		}
		for _, p := range stale {
			full := filepath.Join(w.Dir, filepath.FromSlash(p))
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return rep, fmt.Errorf("remove stale %s: %w", p, err)
			}
			rep.Removed = append(rep.Removed, p)
			log.Info("removed stale artifact", zap.String("path", p))
		}
	}

	log.Info("write complete",
		zap.Int("written", len(rep.Written)),
		zap.Int("unchanged", len(rep.Unchanged)),
		zap.Int("removed", len(rep.Removed)))
	return rep, nil
}

func (w *Writer) unchanged(ctx context.Context, rec store.Record, full, content string) (bool, error) {
	if w.Manifest == nil {
		return false, nil
	}
	prev, ok, err := w.Manifest.Get(ctx, rec.Path)
	if err != nil || !ok || !prev.Same(rec) {
		return false, err
	}
	onDisk, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rec.Path, err)
	}
	return bytes.Equal(onDisk, []byte(content)), nil
}
