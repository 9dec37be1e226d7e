// internal/workspace/scan.go
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/config"
	"pebble/internal/errors"
	"pebble/internal/hash"
)

// FileState is what a scan learns about one file.
type FileState struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Scan is the result of enumerating and hashing candidate files. A partial
// scan only speaks for the paths under its scopes.
type Scan struct {
	Full   bool
	Scopes []string
	Files  map[string]FileState
}

// Covers reports whether path lies inside what the scan looked at.
func (s *Scan) Covers(path string) bool {
	if s.Full {
		return true
	}
	for _, scope := range s.Scopes {
		if path == scope || strings.HasPrefix(path, scope+"/") {
			return true
		}
	}
	return false
}

// Scanner walks a working tree on an afero filesystem.
type Scanner struct {
	fs     afero.Fs
	root   string
	hasher hash.Hasher
	ignore *Ignore
	logger *zap.Logger
}

func NewScanner(fsys afero.Fs, root string, hasher hash.Hasher, ignore *Ignore, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		fs:     fsys,
		root:   filepath.Clean(root),
		hasher: hasher,
		ignore: ignore,
		logger: logger,
	}
}

func (s *Scanner) Root() string { return s.root }

func (s *Scanner) Ignore() *Ignore { return s.ignore }

// Rel normalizes p to a slash separated path relative to the root. Relative
// inputs are taken relative to the root. Paths escaping the root are
// rejected.
func (s *Scanner) Rel(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(p) {
		abs = filepath.Join(s.root, p)
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.ValidationError("path is outside the project").WithPath(p)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (s *Scanner) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// ReadFile returns the current bytes of a tracked path.
func (s *Scanner) ReadFile(rel string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.abs(rel))
	if err != nil {
		return nil, errors.IOFailure("reading file", err).WithPath(rel)
	}
	return data, nil
}

// Scan hashes every candidate file. No paths means the whole tree; a path
// naming a directory is walked recursively; a missing path is skipped.
func (s *Scanner) Scan(paths []string) (*Scan, error) {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return nil, errors.IOFailure("working tree is unreadable", err).WithPath(s.root)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError("working tree is not a directory").WithPath(s.root)
	}

	scan := &Scan{Files: make(map[string]FileState)}

	var scopes []string
	for _, p := range paths {
		rel, err := s.Rel(p)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			scopes = nil
			scan.Full = true
			break
		}
		scopes = append(scopes, rel)
	}
	if len(paths) == 0 {
		scan.Full = true
	}

	if scan.Full {
		if err := s.walk("", scan); err != nil {
			return nil, err
		}
		return scan, nil
	}

	scan.Scopes = scopes
	for _, rel := range scopes {
		if s.ignore.Match(rel) {
			continue
		}
		if err := s.walk(rel, scan); err != nil {
			return nil, err
		}
	}
	return scan, nil
}

func (s *Scanner) walk(rel string, scan *Scan) error {
	start := s.abs(rel)
	if _, err := s.fs.Stat(start); err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("skipping missing path", zap.String("path", rel))
			return nil
		}
		return errors.IOFailure("reading path", err).WithPath(rel)
	}

	return afero.Walk(s.fs, start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IOFailure("walking working tree", err).WithPath(p)
		}
		r, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		r = filepath.ToSlash(r)
		if r == "." {
			return nil
		}

		if s.ignore.Match(r) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		data, err := afero.ReadFile(s.fs, p)
		if err != nil {
			return errors.IOFailure("reading file", err).WithPath(r)
		}
		scan.Files[r] = FileState{Hash: s.hasher.Sum(data), Size: int64(len(data))}
		return nil
	})
}

// FindRoot searches upward from startDir for a directory holding the
// metadata directory.
func FindRoot(fsys afero.Fs, startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := fsys.Stat(filepath.Join(dir, config.MetaDir)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NotFound(fmt.Sprintf("no %s directory found from %s", config.MetaDir, startDir))
}
