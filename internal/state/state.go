// Package state holds the mutable half of a project: the project info with
// its head pointer and file hash index, and the staging set.
package state

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"pebble/internal/errors"
	"pebble/internal/storage"
	"pebble/internal/throw"
)

const infoID = "info"

// Info is the project head. HeadID is empty until the first throw.
type Info struct {
	Name          string            `json:"project_name"`
	Date          time.Time         `json:"date"`
	HeadID        string            `json:"head_commit"`
	FileHashIndex map[string]string `json:"file_hashes"`
	Desc          string            `json:"desc"`
	Hash          string            `json:"hash"`
}

func (i *Info) GetID() string { return infoID }

// StagedChange is one pending entry, stored under staged:<path>.
type StagedChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Hash string `json:"hash,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func (s *StagedChange) GetID() string { return s.Path }

type Store struct {
	db     *badger.DB
	info   *storage.BadgerStore
	staged *storage.BadgerStore
}

func NewStore(db *badger.DB) *Store {
	return &Store{
		db:     db,
		info:   storage.NewBadgerStore(db, "project"),
		staged: storage.NewBadgerStore(db, "staged"),
	}
}

// CreateInfo writes the initial project info. It fails with Conflict if
// the project already has one.
func (s *Store) CreateInfo(info *Info) error {
	if info.Name == "" {
		return errors.ValidationError("project name is required")
	}
	if info.FileHashIndex == nil {
		info.FileHashIndex = make(map[string]string)
	}
	if err := s.info.Create(info); err != nil {
		return fmt.Errorf("creating project info: %w", err)
	}
	return nil
}

func (s *Store) Info() (*Info, error) {
	var info Info
	if err := s.info.Get(infoID, &info); err != nil {
		if errors.Is(err, errors.KindNotFound) {
			return nil, errors.NotFound("project info missing")
		}
		return nil, err
	}
	if info.FileHashIndex == nil {
		info.FileHashIndex = make(map[string]string)
	}
	return &info, nil
}

func (s *Store) PutInfoTxn(txn *badger.Txn, info *Info) error {
	return s.info.PutTxn(txn, info)
}

// Staged returns the pending change set.
func (s *Store) Staged() (throw.ChangeSet, error) {
	var entries []StagedChange
	if err := s.staged.List(&entries); err != nil {
		return throw.ChangeSet{}, err
	}
	return toChangeSet(entries)
}

// StagedEntries returns staged entries in path order.
func (s *Store) StagedEntries() ([]StagedChange, error) {
	var entries []StagedChange
	if err := s.staged.List(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceStaged swaps the whole staging set for cs in one transaction.
func (s *Store) ReplaceStaged(cs throw.ChangeSet, sizes map[string]int64) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := s.staged.ClearTxn(txn); err != nil {
			return err
		}
		for _, e := range fromChangeSet(cs, sizes) {
			e := e
			if err := s.staged.PutTxn(txn, &e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ClearStagedTxn(txn *badger.Txn) error {
	return s.staged.ClearTxn(txn)
}

func toChangeSet(entries []StagedChange) (throw.ChangeSet, error) {
	cs := throw.NewChangeSet()
	for _, e := range entries {
		switch e.Kind {
		case throw.Added, throw.Modified, throw.Deleted:
			cs.Add(e.Kind, e.Path, e.Hash)
		default:
			return throw.ChangeSet{}, errors.Corruption(fmt.Sprintf("unknown staged change kind %q", e.Kind)).WithPath(e.Path)
		}
	}
	return cs, nil
}

func fromChangeSet(cs throw.ChangeSet, sizes map[string]int64) []StagedChange {
	out := make([]StagedChange, 0, cs.Len())
	for _, p := range cs.Paths() {
		kind := cs.Kind(p)
		e := StagedChange{Path: p, Kind: kind, Size: sizes[p]}
		switch kind {
		case throw.Added:
			e.Hash = cs.Added[p]
		case throw.Modified:
			e.Hash = cs.Modified[p]
		}
		out = append(out, e)
	}
	return out
}
