package workspace

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"pebble/internal/config"
	"pebble/internal/errors"
)

// IgnoreFiles are read from the project root, in this order.
var IgnoreFiles = []string{".pebbleignore", "pebbleignore"}

// Ignore decides which paths are invisible to scans and protected from
// removal by a restore. The metadata directory is always ignored.
type Ignore struct {
	patterns []string
}

func NewIgnore(patterns ...string) *Ignore {
	ig := &Ignore{}
	for _, p := range patterns {
		ig.add(p)
	}
	return ig
}

// LoadIgnore reads the ignore files in root. Missing files are fine.
func LoadIgnore(fsys afero.Fs, root string) (*Ignore, error) {
	ig := NewIgnore()
	for _, name := range IgnoreFiles {
		data, err := afero.ReadFile(fsys, filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.IOFailure("reading ignore file", err).WithPath(name)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			ig.add(sc.Text())
		}
	}
	return ig, nil
}

func (ig *Ignore) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	ig.patterns = append(ig.patterns, strings.TrimSuffix(filepath.ToSlash(line), "/"))
}

func (ig *Ignore) Patterns() []string {
	return ig.patterns
}

// Match reports whether rel, a slash separated path relative to the root,
// is ignored. A pattern matches a path when it equals one of its
// components, equals the path or one of its ancestors, or matches either
// as a glob.
func (ig *Ignore) Match(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if part == config.MetaDir {
			return true
		}
		if ig != nil && ig.matchOne(strings.Join(parts[:i+1], "/"), part) {
			return true
		}
	}
	return false
}

func (ig *Ignore) matchOne(prefix, base string) bool {
	for _, p := range ig.patterns {
		if p == base || p == prefix {
			return true
		}
		if ok, err := doublestar.Match(p, prefix); err == nil && ok {
			return true
		}
	}
	return false
}
