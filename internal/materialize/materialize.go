// Package materialize writes a reconstructed snapshot onto a directory.
package materialize

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/config"
	"pebble/internal/errors"
	"pebble/internal/rebuild"
	"pebble/shared/utils"
)

// Matcher protects paths from removal. The metadata directory is protected
// regardless.
type Matcher interface {
	Match(rel string) bool
}

// Result counts what a run did. A second run over the same snapshot
// reports only Unchanged.
type Result struct {
	Written     []string
	Unchanged   int
	Removed     []string
	RemovedDirs []string
}

func (r *Result) Changed() bool {
	return len(r.Written) > 0 || len(r.Removed) > 0 || len(r.RemovedDirs) > 0
}

type Materializer struct {
	fs     afero.Fs
	logger *zap.Logger
}

func New(fsys afero.Fs, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{fs: fsys, logger: logger}
}

// Materialize makes dest hold exactly snap, apart from ignored paths. Files
// are written before anything is removed, and directories are only removed
// when removing files left them empty.
func (m *Materializer) Materialize(snap rebuild.Snapshot, dest string, ignore Matcher) (*Result, error) {
	dest = filepath.Clean(dest)
	if err := m.fs.MkdirAll(dest, 0755); err != nil {
		return nil, errors.IOFailure("creating destination", err).WithPath(dest)
	}

	if err := m.checkBlockers(snap, dest, ignore); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, rel := range snap.Paths() {
		if isMeta(rel) {
			continue
		}
		written, err := m.writeFile(dest, rel, snap[rel])
		if err != nil {
			return res, err
		}
		if written {
			res.Written = append(res.Written, rel)
		} else {
			res.Unchanged++
		}
	}

	if err := m.removeExtra(snap, dest, ignore, res); err != nil {
		return res, err
	}

	m.logger.Debug("materialized snapshot",
		zap.String("dest", dest),
		zap.Int("written", len(res.Written)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("removed", len(res.Removed)))
	return res, nil
}

func (m *Materializer) writeFile(dest, rel string, content []byte) (bool, error) {
	target := filepath.Join(dest, filepath.FromSlash(rel))

	if err := m.clearAncestors(dest, rel); err != nil {
		return false, err
	}

	info, err := m.fs.Stat(target)
	switch {
	case err == nil && info.IsDir():
		if err := m.fs.RemoveAll(target); err != nil {
			return false, errors.IOFailure("replacing directory with file", err).WithPath(rel)
		}
	case err == nil && info.Mode().IsRegular():
		current, err := afero.ReadFile(m.fs, target)
		if err == nil && bytes.Equal(current, content) {
			return false, nil
		}
	case err != nil && !os.IsNotExist(err):
		return false, errors.IOFailure("inspecting file", err).WithPath(rel)
	}

	if err := utils.WriteFileAtomic(m.fs, target, content, 0644); err != nil {
		return false, errors.IOFailure("writing file", err).WithPath(rel)
	}
	return true, nil
}

// checkBlockers fails with Conflict when writing snap would have to delete an
// ignored path: an ignored file where a directory is needed, or a directory
// holding ignored entries where a file is needed. Nothing is modified.
func (m *Materializer) checkBlockers(snap rebuild.Snapshot, dest string, ignore Matcher) error {
	if ignore == nil {
		return nil
	}
	for _, rel := range snap.Paths() {
		if isMeta(rel) {
			continue
		}
		parts := strings.Split(rel, "/")
		for i := 1; i < len(parts); i++ {
			anc := strings.Join(parts[:i], "/")
			info, err := m.fs.Stat(filepath.Join(dest, filepath.FromSlash(anc)))
			if err != nil {
				break
			}
			if !info.IsDir() {
				if ignore.Match(anc) {
					return errors.Conflict("ignored file is in the way of a tracked path").WithPath(anc)
				}
				break
			}
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		info, err := m.fs.Stat(target)
		if err != nil || !info.IsDir() {
			continue
		}
		if kept, err := m.protectedEntry(dest, target, ignore); err != nil {
			return err
		} else if kept != "" {
			return errors.Conflict("directory with ignored files is in the way of a tracked file").WithPath(kept)
		}
	}
	return nil
}

// protectedEntry returns the first ignored path under dir, or "".
func (m *Materializer) protectedEntry(dest, dir string, ignore Matcher) (string, error) {
	var kept string
	err := afero.Walk(m.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IOFailure("walking directory", err).WithPath(p)
		}
		if kept == "" && p != dir {
			rel, err := filepath.Rel(dest, p)
			if err != nil {
				return err
			}
			if rel = filepath.ToSlash(rel); isMeta(rel) || ignore.Match(rel) {
				kept = rel
			}
		}
		if kept != "" && info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	return kept, err
}

// clearAncestors removes plain files sitting where rel needs a directory.
func (m *Materializer) clearAncestors(dest, rel string) error {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		dir := filepath.Join(dest, filepath.FromSlash(strings.Join(parts[:i], "/")))
		info, err := m.fs.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.IOFailure("inspecting directory", err).WithPath(rel)
		}
		if !info.IsDir() {
			if err := m.fs.Remove(dir); err != nil {
				return errors.IOFailure("replacing file with directory", err).WithPath(rel)
			}
			return nil
		}
	}
	return nil
}

func (m *Materializer) removeExtra(snap rebuild.Snapshot, dest string, ignore Matcher, res *Result) error {
	var dirs []string
	emptied := make(map[string]bool)
	err := afero.Walk(m.fs, dest, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IOFailure("walking destination", err).WithPath(p)
		}
		rel, err := filepath.Rel(dest, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if isMeta(rel) || (ignore != nil && ignore.Match(rel)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if _, keep := snap[rel]; keep {
			return nil
		}
		if err := m.fs.Remove(p); err != nil {
			return errors.IOFailure("removing file", err).WithPath(rel)
		}
		res.Removed = append(res.Removed, rel)
		for d := filepath.Dir(p); d != dest && strings.HasPrefix(d, dest); d = filepath.Dir(d) {
			emptied[d] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	// deepest first so parents empty out before they are checked
	slices.Reverse(dirs)
	for _, d := range dirs {
		if !emptied[d] {
			continue
		}
		entries, err := afero.ReadDir(m.fs, d)
		if err != nil {
			return errors.IOFailure("reading directory", err).WithPath(d)
		}
		if len(entries) > 0 {
			continue
		}
		if err := m.fs.Remove(d); err != nil {
			return errors.IOFailure("removing directory", err).WithPath(d)
		}
		rel, _ := filepath.Rel(dest, d)
		res.RemovedDirs = append(res.RemovedDirs, filepath.ToSlash(rel))
	}
	return nil
}

func isMeta(rel string) bool {
	return rel == config.MetaDir || strings.HasPrefix(rel, config.MetaDir+"/")
}
