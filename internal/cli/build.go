package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/pmc/internal/driver"
	"github.com/roach88/pmc/internal/emitter"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/registry"
	"github.com/roach88/pmc/internal/store"
)

// CallSite holds the host statements replacing one record.
type CallSite struct {
	Owner string   `json:"owner"`
	Lines []string `json:"lines"`
}

// UnitBuild is the result of one unit lowered for one backend.
type UnitBuild struct {
	Unit      string     `json:"unit"`
	Backend   string     `json:"backend"`
	Key       string     `json:"key"`
	Cached    bool       `json:"cached"`
	Files     []string   `json:"files"`
	CallSites []CallSite `json:"call_sites"`

	artifacts []emitter.Artifact
}

// Builder lowers units through the build cache. A nil store disables
// caching.
type Builder struct {
	driver *driver.Driver
	store  *store.Store
}

// openCache opens the build cache at path, creating its directory.
func openCache(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return store.Open(path)
}

// Build lowers u for backend, reusing a cached build with the same key.
// Lowering errors are returned unwrapped so callers can list them.
func (b *Builder) Build(ctx context.Context, u *ir.TranslationUnit, backend registry.Backend) (*UnitBuild, error) {
	key, err := b.driver.BuildKey(u, backend)
	if err != nil {
		return nil, fmt.Errorf("build key %s: %w", u.Name(), err)
	}

	if b.store != nil {
		cached, ok, err := b.store.LookupBuild(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.Info("build cache hit", "unit", u.Name(), "backend", backend, "key", key)
			return fromCache(cached, backend), nil
		}
	}

	out, err := b.driver.Compile(ctx, u, backend)
	if err != nil {
		return nil, err
	}
	ub := fromOutput(out, key)

	if b.store != nil {
		if _, err := b.store.WriteBuild(ctx, toCache(out, key, b.driver.Settings())); err != nil {
			return nil, err
		}
	}
	return ub, nil
}

func fromOutput(out *driver.Output, key string) *UnitBuild {
	ub := &UnitBuild{
		Unit:      out.Unit,
		Backend:   string(out.Backend),
		Key:       key,
		artifacts: out.Artifacts,
	}
	for _, a := range out.Artifacts {
		ub.Files = append(ub.Files, a.Path)
	}
	for _, cs := range out.CallSites {
		ub.CallSites = append(ub.CallSites, CallSite{Owner: cs.Owner.String(), Lines: cs.Lines})
	}
	return ub
}

func fromCache(b *store.Build, backend registry.Backend) *UnitBuild {
	ub := &UnitBuild{
		Unit:    b.Unit,
		Backend: b.Backend,
		Key:     b.Key,
		Cached:  true,
	}
	for _, a := range b.Artifacts {
		art := emitter.Artifact{
			Path:    a.Path,
			Kind:    lower.FileKind(a.Kind),
			Content: a.Content,
		}
		if art.Kind != lower.KindInterface {
			art.Backend = backend
		}
		ub.artifacts = append(ub.artifacts, art)
		ub.Files = append(ub.Files, a.Path)
	}
	for _, cs := range b.CallSites {
		ub.CallSites = append(ub.CallSites, CallSite{Owner: cs.Owner, Lines: cs.Lines})
	}
	return ub
}

func toCache(out *driver.Output, key string, settings ir.Object) store.BuildInput {
	in := store.BuildInput{
		Key:      key,
		Unit:     out.Unit,
		UnitHash: out.Hash,
		Backend:  string(out.Backend),
		Settings: settings,
	}
	for _, cs := range out.CallSites {
		in.CallSites = append(in.CallSites, store.CallSite{Owner: cs.Owner.String(), Lines: cs.Lines})
	}
	for _, a := range out.Artifacts {
		in.Artifacts = append(in.Artifacts, store.Artifact{
			Path:    a.Path,
			Kind:    string(a.Kind),
			Hash:    a.Hash(),
			Content: a.Content,
		})
	}
	return in
}
