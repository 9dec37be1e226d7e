// Package registry maps project names to their location on disk. Each
// project is one JSON file, <home>/<name>_info.json.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"pebble/internal/errors"
	"pebble/shared/utils"
)

const fileSuffix = "_info.json"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Entry struct {
	Name     string    `json:"project_name"`
	Location string    `json:"folder_location"`
	HeadID   string    `json:"head_commit"`
	Desc     string    `json:"desc"`
	Date     time.Time `json:"date"`
}

type Registry interface {
	Register(e Entry) error
	Lookup(name string) (Entry, error)
	SetHead(name, headID string) error
	Remove(name string) error
	List() ([]Entry, error)
}

// ValidateName rejects names that cannot be used as a file name prefix.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return errors.ValidationError(fmt.Sprintf("invalid project name %q", name))
	}
	return nil
}

type FileRegistry struct {
	fs   afero.Fs
	home string
	mu   sync.Mutex
}

func NewFileRegistry(fsys afero.Fs, home string) *FileRegistry {
	return &FileRegistry{fs: fsys, home: home}
}

func (r *FileRegistry) Home() string { return r.home }

func (r *FileRegistry) path(name string) string {
	return filepath.Join(r.home, name+fileSuffix)
}

// Register adds a new entry, failing with Conflict if the name is taken.
func (r *FileRegistry) Register(e Entry) error {
	if err := ValidateName(e.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := afero.Exists(r.fs, r.path(e.Name))
	if err != nil {
		return errors.IOFailure("checking registry", err).WithProject(e.Name)
	}
	if exists {
		return errors.Conflict("project name already registered").WithProject(e.Name)
	}
	return r.write(e)
}

func (r *FileRegistry) Lookup(name string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(name)
}

func (r *FileRegistry) SetHead(name, headID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.read(name)
	if err != nil {
		return err
	}
	e.HeadID = headID
	return r.write(e)
}

func (r *FileRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fs.Remove(r.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("unknown project").WithProject(name)
		}
		return errors.IOFailure("removing registry entry", err).WithProject(name)
	}
	return nil
}

// List returns every registered project, sorted by name.
func (r *FileRegistry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos, err := afero.ReadDir(r.fs, r.home)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IOFailure("reading registry", err).WithPath(r.home)
	}

	var entries []Entry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileSuffix) {
			continue
		}
		e, err := r.read(strings.TrimSuffix(info.Name(), fileSuffix))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries, nil
}

func (r *FileRegistry) read(name string) (Entry, error) {
	var e Entry
	if err := ValidateName(name); err != nil {
		return e, err
	}
	data, err := afero.ReadFile(r.fs, r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return e, errors.NotFound("unknown project").WithProject(name)
		}
		return e, errors.IOFailure("reading registry entry", err).WithProject(name)
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, errors.Corruption(fmt.Sprintf("decoding registry entry: %v", err)).WithProject(name)
	}
	return e, nil
}

func (r *FileRegistry) write(e Entry) error {
	data, err := json.MarshalIndent(e, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling registry entry: %w", err)
	}
	if err := utils.WriteFileAtomic(r.fs, r.path(e.Name), data, 0644); err != nil {
		return errors.IOFailure("writing registry entry", err).WithProject(e.Name)
	}
	return nil
}
