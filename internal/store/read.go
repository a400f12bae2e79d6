package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LookupBuild returns the cached build for key with its artifacts in
// emission order. The bool is false on a cache miss.
func (s *Store) LookupBuild(ctx context.Context, key string) (*Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, build_key, unit, unit_hash, backend, compiler_version, settings, call_sites, seq
		FROM builds
		WHERE build_key = ?
	`, key)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	b.Artifacts, err = s.readArtifacts(ctx, b.ID)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// ListBuilds returns cached builds without artifact content, ordered by
// seq ASC, id ASC COLLATE BINARY. An empty unit lists every build.
//
// Returns an empty slice (not nil) if nothing is cached.
func (s *Store) ListBuilds(ctx context.Context, unit string) ([]Build, error) {
	query := `
		SELECT id, build_key, unit, unit_hash, backend, compiler_version, settings, call_sites, seq
		FROM builds`
	var args []any
	if unit != "" {
		query += ` WHERE unit = ?`
		args = append(args, unit)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	for i := range builds {
		if builds[i].Artifacts, err = s.readArtifactHeaders(ctx, builds[i].ID); err != nil {
			return nil, err
		}
	}
	return builds, nil
}

func (s *Store) readArtifacts(ctx context.Context, buildID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, kind, hash, content
		FROM artifacts
		WHERE build_id = ?
		ORDER BY position ASC
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	arts := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Path, &a.Kind, &a.Hash, &a.Content); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		arts = append(arts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return arts, nil
}

// readArtifactHeaders is readArtifacts without content.
func (s *Store) readArtifactHeaders(ctx context.Context, buildID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, kind, hash
		FROM artifacts
		WHERE build_id = ?
		ORDER BY position ASC
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	arts := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Path, &a.Kind, &a.Hash); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		arts = append(arts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return arts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	var (
		b         Build
		sitesJSON string
	)
	err := row.Scan(&b.ID, &b.Key, &b.Unit, &b.UnitHash, &b.Backend, &b.CompilerVersion, &b.Settings, &sitesJSON, &b.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}
	if b.CallSites, err = unmarshalCallSites(sitesJSON); err != nil {
		return nil, err
	}
	return &b, nil
}
