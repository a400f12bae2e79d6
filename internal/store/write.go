package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/pmc/internal/ir"
)

// BuildInput is what WriteBuild records. The store assigns the id and seq.
type BuildInput struct {
	Key       string
	Unit      string
	UnitHash  string
	Backend   string
	Settings  ir.Object
	CallSites []CallSite
	Artifacts []Artifact
}

// WriteBuild records a build and its artifacts in one transaction.
// Uses ON CONFLICT(build_key) DO NOTHING for idempotency: writing a key
// that is already cached returns the existing build.
func (s *Store) WriteBuild(ctx context.Context, in BuildInput) (*Build, error) {
	settingsJSON, err := marshalSettings(in.Settings)
	if err != nil {
		return nil, fmt.Errorf("write build: %w", err)
	}
	sitesJSON, err := marshalCallSites(in.CallSites)
	if err != nil {
		return nil, fmt.Errorf("write build: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("write build: begin: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM builds WHERE build_key = ?`, in.Key).Scan(&existing)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("write build: commit: %w", err)
		}
		slog.Debug("build already cached", "key", in.Key, "id", existing)
		b, _, err := s.LookupBuild(ctx, in.Key)
		return b, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("write build: lookup: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM builds`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("write build: next seq: %w", err)
	}

	id := s.ids.Generate()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds
		(id, build_key, unit, unit_hash, backend, compiler_version, settings, call_sites, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(build_key) DO NOTHING
	`,
		id,
		in.Key,
		in.Unit,
		in.UnitHash,
		in.Backend,
		ir.CompilerVersion,
		settingsJSON,
		sitesJSON,
		seq,
	)
	if err != nil {
		return nil, fmt.Errorf("write build: %w", err)
	}

	for i, a := range in.Artifacts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (build_id, path, kind, hash, content, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, a.Path, a.Kind, a.Hash, a.Content, i)
		if err != nil {
			return nil, fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write build: commit: %w", err)
	}

	slog.Info("build cached",
		"id", id,
		"unit", in.Unit,
		"backend", in.Backend,
		"artifacts", len(in.Artifacts),
	)

	return &Build{
		ID:              id,
		Key:             in.Key,
		Unit:            in.Unit,
		UnitHash:        in.UnitHash,
		Backend:         in.Backend,
		CompilerVersion: ir.CompilerVersion,
		Settings:        settingsJSON,
		CallSites:       in.CallSites,
		Seq:             seq,
		Artifacts:       in.Artifacts,
	}, nil
}

// DeleteBuilds removes every build of a unit, or every build when unit is
// empty. Returns the number of builds removed.
func (s *Store) DeleteBuilds(ctx context.Context, unit string) (int64, error) {
	query := `DELETE FROM builds`
	var args []any
	if unit != "" {
		query += ` WHERE unit = ?`
		args = append(args, unit)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete builds: %w", err)
	}
	return res.RowsAffected()
}
