// Package rebuild derives the full tree at a throw by replaying the chain
// of change sets from the root.
package rebuild

import (
	"fmt"
	"maps"

	"pebble/internal/errors"
	"pebble/internal/throw"
	"pebble/shared/utils"
)

// Manifest maps each path of a tree to its content hash.
type Manifest map[string]string

// Snapshot maps each path of a tree to its content.
type Snapshot map[string][]byte

func (s Snapshot) Paths() []string { return utils.SortedKeys(s) }

type ChainSource interface {
	Chain(target string) ([]*throw.Record, error)
}

type BlobSource interface {
	Get(hash string) ([]byte, error)
}

// Replay applies chain, root first, to an empty tree. A change set that
// contradicts the accumulated tree is Corruption.
func Replay(chain []*throw.Record) (Manifest, error) {
	m := make(Manifest)
	for _, r := range chain {
		cs := r.Changes
		for _, p := range utils.SortedKeys(cs.Added) {
			if _, ok := m[p]; ok {
				return nil, errors.Corruption("added path already present").WithRecord(r.ID).WithPath(p)
			}
			m[p] = cs.Added[p]
		}
		for _, p := range utils.SortedKeys(cs.Modified) {
			if _, ok := m[p]; !ok {
				return nil, errors.Corruption("modified path not present").WithRecord(r.ID).WithPath(p)
			}
			m[p] = cs.Modified[p]
		}
		for _, p := range cs.Deleted {
			if _, ok := m[p]; !ok {
				return nil, errors.Corruption("deleted path not present").WithRecord(r.ID).WithPath(p)
			}
			delete(m, p)
		}
	}
	return m, nil
}

// ManifestAt replays the chain ending at target. An empty target is the
// empty tree.
func ManifestAt(log ChainSource, target string) (Manifest, error) {
	chain, err := log.Chain(target)
	if err != nil {
		return nil, err
	}
	return Replay(chain)
}

// Resolve loads the content of every manifest entry. A blob the history
// references but the store does not know is Corruption.
func Resolve(m Manifest, blobs BlobSource) (Snapshot, error) {
	snap := make(Snapshot, len(m))
	for _, p := range utils.SortedKeys(m) {
		content, err := blobs.Get(m[p])
		if err != nil {
			if errors.Is(err, errors.KindNotFound) {
				return nil, errors.Corruption(fmt.Sprintf("blob %s is missing", m[p])).WithPath(p)
			}
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		snap[p] = content
	}
	return snap, nil
}

// Reconstruct returns the full tree at target.
func Reconstruct(log ChainSource, blobs BlobSource, target string) (Snapshot, error) {
	m, err := ManifestAt(log, target)
	if err != nil {
		return nil, err
	}
	return Resolve(m, blobs)
}

func (m Manifest) Clone() Manifest { return maps.Clone(m) }
