// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"pebble/internal/errors"
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore keeps JSON encoded entities under "<prefix>:<id>" keys. Every
// operation has a *Txn variant so callers can group writes from several
// stores into one badger transaction.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) keyPrefix() []byte {
	return []byte(s.prefix + ":")
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), s.prefix+":")
}

// Create stores a new entity, failing with a Conflict if the ID is taken.
func (s *BadgerStore) Create(entity Entity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.CreateTxn(txn, entity)
	})
}

func (s *BadgerStore) CreateTxn(txn *badger.Txn, entity Entity) error {
	if entity.GetID() == "" {
		return errors.ValidationError(fmt.Sprintf("%s ID cannot be empty", s.prefix))
	}

	key := s.makeKey(entity.GetID())
	_, err := txn.Get(key)
	if err == nil {
		return errors.Conflict(fmt.Sprintf("%s already exists: %s", s.prefix, entity.GetID()))
	} else if err != badger.ErrKeyNotFound {
		return errors.IOFailure(fmt.Sprintf("checking %s %s", s.prefix, entity.GetID()), err)
	}

	return s.setTxn(txn, key, entity)
}

// Put creates or overwrites an entity.
func (s *BadgerStore) Put(entity Entity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.PutTxn(txn, entity)
	})
}

func (s *BadgerStore) PutTxn(txn *badger.Txn, entity Entity) error {
	if entity.GetID() == "" {
		return errors.ValidationError(fmt.Sprintf("%s ID cannot be empty", s.prefix))
	}
	return s.setTxn(txn, s.makeKey(entity.GetID()), entity)
}

func (s *BadgerStore) setTxn(txn *badger.Txn, key []byte, entity Entity) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", s.prefix, err)
	}
	if err := txn.Set(key, data); err != nil {
		return errors.IOFailure(fmt.Sprintf("storing %s %s", s.prefix, entity.GetID()), err)
	}
	return nil
}

func (s *BadgerStore) Get(id string, entity Entity) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.GetTxn(txn, id, entity)
	})
}

func (s *BadgerStore) GetTxn(txn *badger.Txn, id string, entity Entity) error {
	item, err := txn.Get(s.makeKey(id))
	if err == badger.ErrKeyNotFound {
		return errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
	} else if err != nil {
		return errors.IOFailure(fmt.Sprintf("reading %s %s", s.prefix, id), err)
	}

	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, entity); err != nil {
			return errors.Corruption(fmt.Sprintf("decoding %s %s: %v", s.prefix, id, err))
		}
		return nil
	})
}

func (s *BadgerStore) Exists(id string) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return errors.IOFailure(fmt.Sprintf("checking %s %s", s.prefix, id), err)
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *BadgerStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.DeleteTxn(txn, id)
	})
}

func (s *BadgerStore) DeleteTxn(txn *badger.Txn, id string) error {
	key := s.makeKey(id)
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
	} else if err != nil {
		return errors.IOFailure(fmt.Sprintf("checking %s %s", s.prefix, id), err)
	}

	if err := txn.Delete(key); err != nil {
		return errors.IOFailure(fmt.Sprintf("deleting %s %s", s.prefix, id), err)
	}
	return nil
}

// ClearTxn deletes every entity under the prefix.
func (s *BadgerStore) ClearTxn(txn *badger.Txn) error {
	ids, err := s.idsTxn(txn)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := txn.Delete(s.makeKey(id)); err != nil {
			return errors.IOFailure(fmt.Sprintf("deleting %s %s", s.prefix, id), err)
		}
	}
	return nil
}

func (s *BadgerStore) idsTxn(txn *badger.Txn) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = s.keyPrefix()

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, s.stripPrefix(it.Item().KeyCopy(nil)))
	}
	return ids, nil
}

// List decodes every entity under the prefix, in key order, into results,
// which must be a pointer to a slice.
func (s *BadgerStore) List(results interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.keyPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		var values []json.RawMessage
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, val)
		}

		// Marshal collected values into final result
		data, err := json.Marshal(values)
		if err != nil {
			return err
		}

		return json.Unmarshal(data, results)
	})

	if err != nil {
		return errors.IOFailure(fmt.Sprintf("listing %s", s.prefix), err)
	}
	return nil
}
