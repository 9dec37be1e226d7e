package throw

import (
	"fmt"
	"maps"
	"slices"

	"pebble/internal/errors"
	"pebble/shared/utils"
)

// Change kinds, as reported by ChangeSet.Kind and the staging store.
const (
	Added    = "added"
	Modified = "modified"
	Deleted  = "deleted"
)

// ChangeSet is the delta a throw records. Added and Modified map a path to
// the hash of its new content; Deleted is kept sorted.
type ChangeSet struct {
	Added    map[string]string `json:"added"`
	Modified map[string]string `json:"modified"`
	Deleted  []string          `json:"deleted"`
}

func NewChangeSet() ChangeSet {
	return ChangeSet{
		Added:    make(map[string]string),
		Modified: make(map[string]string),
	}
}

func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

func (c ChangeSet) IsEmpty() bool {
	return c.Len() == 0
}

// Add records path under kind, taking it out of the other two sets.
func (c *ChangeSet) Add(kind, path, hash string) {
	if c.Added == nil || c.Modified == nil {
		*c = c.normalized()
	}
	c.Remove(path)
	switch kind {
	case Added:
		c.Added[path] = hash
	case Modified:
		c.Modified[path] = hash
	case Deleted:
		i, _ := slices.BinarySearch(c.Deleted, path)
		c.Deleted = slices.Insert(c.Deleted, i, path)
	}
}

// Remove drops any entry for path.
func (c *ChangeSet) Remove(path string) {
	delete(c.Added, path)
	delete(c.Modified, path)
	if i, ok := slices.BinarySearch(c.Deleted, path); ok {
		c.Deleted = slices.Delete(c.Deleted, i, i+1)
	}
}

// Kind reports which set path is in, or "" if it is in none.
func (c ChangeSet) Kind(path string) string {
	if _, ok := c.Added[path]; ok {
		return Added
	}
	if _, ok := c.Modified[path]; ok {
		return Modified
	}
	if _, ok := slices.BinarySearch(c.Deleted, path); ok {
		return Deleted
	}
	return ""
}

// Validate checks that the three sets are disjoint.
func (c ChangeSet) Validate() error {
	seen := make(map[string]string, c.Len())
	check := func(kind, path string) error {
		if prev, ok := seen[path]; ok {
			return errors.ValidationError(fmt.Sprintf("path is both %s and %s", prev, kind)).WithPath(path)
		}
		seen[path] = kind
		return nil
	}
	for p := range c.Added {
		if err := check(Added, p); err != nil {
			return err
		}
	}
	for p := range c.Modified {
		if err := check(Modified, p); err != nil {
			return err
		}
	}
	for _, p := range c.Deleted {
		if err := check(Deleted, p); err != nil {
			return err
		}
	}
	return nil
}

// Paths returns every path the change set touches, sorted.
func (c ChangeSet) Paths() []string {
	paths := make([]string, 0, c.Len())
	paths = append(paths, utils.SortedKeys(c.Added)...)
	paths = append(paths, utils.SortedKeys(c.Modified)...)
	paths = append(paths, c.Deleted...)
	slices.Sort(paths)
	return paths
}

// Hashes returns the content hashes referenced by added and modified paths.
func (c ChangeSet) Hashes() []string {
	set := make(map[string]struct{}, len(c.Added)+len(c.Modified))
	for _, h := range c.Added {
		set[h] = struct{}{}
	}
	for _, h := range c.Modified {
		set[h] = struct{}{}
	}
	return utils.SortedKeys(set)
}

// Apply returns a copy of index with the change set applied.
func (c ChangeSet) Apply(index map[string]string) map[string]string {
	out := maps.Clone(index)
	if out == nil {
		out = make(map[string]string)
	}
	maps.Copy(out, c.Added)
	maps.Copy(out, c.Modified)
	for _, p := range c.Deleted {
		delete(out, p)
	}
	return out
}

// Clone returns a deep copy.
func (c ChangeSet) Clone() ChangeSet {
	out := c.normalized()
	out.Added = maps.Clone(out.Added)
	out.Modified = maps.Clone(out.Modified)
	out.Deleted = slices.Clone(c.Deleted)
	return out
}

func (c ChangeSet) normalized() ChangeSet {
	if c.Added == nil {
		c.Added = make(map[string]string)
	}
	if c.Modified == nil {
		c.Modified = make(map[string]string)
	}
	return c
}
