// Package writer places generated artifacts under an output directory.
//
// A file lock on the output directory serializes concurrent pmc runs, and
// every file is written to a temp file first and renamed into place, so a
// reader never sees a partially written artifact. Files whose content is
// already current are left untouched to keep host build timestamps stable.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"github.com/roach88/pmc/internal/emitter"
)

// LockFile is the name of the lock file created in the output directory.
const LockFile = ".pmc.lock"

// Report lists what Write did, by artifact path.
type Report struct {
	Written   []string `json:"written"`
	Unchanged []string `json:"unchanged"`
}

// Write stores arts under dir. Artifacts sharing a path must have the
// same content; the shared wrapper interface of several backends is
// written once.
func Write(dir string, arts []emitter.Artifact) (*Report, error) {
	files, err := dedupe(arts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, LockFile))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	defer lock.Unlock()

	report := &Report{Written: []string{}, Unchanged: []string{}}
	for _, a := range files {
		target := filepath.Join(dir, filepath.FromSlash(a.Path))
		changed, err := writeFile(target, a.Content)
		if err != nil {
			return report, fmt.Errorf("write %s: %w", a.Path, err)
		}
		if changed {
			report.Written = append(report.Written, a.Path)
			slog.Debug("artifact written", "path", a.Path, "bytes", len(a.Content))
		} else {
			report.Unchanged = append(report.Unchanged, a.Path)
		}
	}
	return report, nil
}

// dedupe drops repeated paths and orders the rest by path.
func dedupe(arts []emitter.Artifact) ([]emitter.Artifact, error) {
	byPath := make(map[string]emitter.Artifact, len(arts))
	for _, a := range arts {
		if !filepath.IsLocal(filepath.FromSlash(a.Path)) {
			return nil, fmt.Errorf("artifact path %q escapes the output directory", a.Path)
		}
		if prev, ok := byPath[a.Path]; ok {
			if !bytes.Equal(prev.Content, a.Content) {
				return nil, fmt.Errorf("artifact %s generated twice with different content", a.Path)
			}
			continue
		}
		byPath[a.Path] = a
	}
	out := make([]emitter.Artifact, 0, len(byPath))
	for _, a := range byPath {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// writeFile replaces target with content unless it already holds it.
func writeFile(target string, content []byte) (bool, error) {
	current, err := os.ReadFile(target)
	if err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return false, err
	}
	return true, os.Rename(tmp.Name(), target)
}
