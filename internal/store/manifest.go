package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Record describes one generated file.
type Record struct {
	Path            string
	Entity          string
	Action          string
	Layer           string
	ContentHash     string
	SpecHash        string
	CompilerVersion string
}

// Same reports whether r and other describe identical output.
// Entity, action and layer are derived from the path, so only the hashes and
// the compiler version are compared.
func (r Record) Same(other Record) bool {
	return r.Path == other.Path &&
		r.ContentHash == other.ContentHash &&
		r.SpecHash == other.SpecHash &&
		r.CompilerVersion == other.CompilerVersion
}

// Get returns the record stored for path.
// The boolean is false when no record exists.
func (s *Store) Get(ctx context.Context, path string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, entity, action, layer, content_hash, spec_hash, compiler_version
		FROM artifacts
		WHERE path = ?
	`, path)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get artifact %s: %w", path, err)
	}
	return rec, true, nil
}

// Put inserts or replaces the record for rec.Path.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.Path == "" {
		return fmt.Errorf("put artifact: empty path")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts
		(path, entity, action, layer, content_hash, spec_hash, compiler_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			entity = excluded.entity,
			action = excluded.action,
			layer = excluded.layer,
			content_hash = excluded.content_hash,
			spec_hash = excluded.spec_hash,
			compiler_version = excluded.compiler_version
	`,
		rec.Path,
		rec.Entity,
		rec.Action,
		rec.Layer,
		rec.ContentHash,
		rec.SpecHash,
		rec.CompilerVersion,
	)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", rec.Path, err)
	}
	return nil
}

// List returns every record ordered by path.
// Returns an empty slice (not nil) when the manifest is empty.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, entity, action, layer, content_hash, spec_hash, compiler_version
		FROM artifacts
		ORDER BY path COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return records, nil
}

// Delete removes the record for path. Deleting a missing record is a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete artifact %s: %w", path, err)
	}
	return nil
}

// Prune deletes every record whose path is not in keep, in one transaction,
// and returns the removed paths in sorted order.
func (s *Store) Prune(ctx context.Context, keep []string) ([]string, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}

	existing, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, rec := range existing {
		if !keepSet[rec.Path] {
			stale = append(stale, rec.Path)
		}
	}
	if len(stale) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("prune artifacts: %w", err)
	}
	defer tx.Rollback()

	for _, p := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, p); err != nil {
			return nil, fmt.Errorf("prune artifact %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("prune artifacts: %w", err)
	}

	sort.Strings(stale)
	return stale, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.Path,
		&rec.Entity,
		&rec.Action,
		&rec.Layer,
		&rec.ContentHash,
		&rec.SpecHash,
		&rec.CompilerVersion,
	)
	return rec, err
}
