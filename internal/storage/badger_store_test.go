package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pebble/internal/errors"
)

type note struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (n *note) GetID() string { return n.ID }

func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore(db, "note")

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, store.Create(&note{ID: "a", Body: "first"}))

		err := store.Create(&note{ID: "a", Body: "again"})
		assert.True(t, errors.Is(err, errors.KindConflict))

		err = store.Create(&note{})
		assert.True(t, errors.Is(err, errors.KindValidation))
	})

	t.Run("Get", func(t *testing.T) {
		var n note
		require.NoError(t, store.Get("a", &n))
		assert.Equal(t, "first", n.Body)

		err := store.Get("missing", &n)
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})

	t.Run("Put", func(t *testing.T) {
		require.NoError(t, store.Put(&note{ID: "a", Body: "updated"}))
		require.NoError(t, store.Put(&note{ID: "b", Body: "second"}))

		var n note
		require.NoError(t, store.Get("a", &n))
		assert.Equal(t, "updated", n.Body)

		ok, err := store.Exists("b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("List", func(t *testing.T) {
		// a key under a different prefix must not leak into the listing
		other := NewBadgerStore(db, "notebook")
		require.NoError(t, other.Put(&note{ID: "x", Body: "other"}))

		var notes []note
		require.NoError(t, store.List(&notes))
		require.Len(t, notes, 2)
		assert.Equal(t, "a", notes[0].ID)
		assert.Equal(t, "b", notes[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("b"))
		err := store.Delete("b")
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})

	t.Run("ClearTxn", func(t *testing.T) {
		require.NoError(t, store.Put(&note{ID: "c"}))
		require.NoError(t, db.Update(store.ClearTxn))

		var notes []note
		require.NoError(t, store.List(&notes))
		assert.Empty(t, notes)

		var n note
		require.NoError(t, NewBadgerStore(db, "notebook").Get("x", &n))
	})
}
