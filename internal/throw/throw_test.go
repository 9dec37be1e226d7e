package throw

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pebble/internal/errors"
)

func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func appendRecord(t *testing.T, db *badger.DB, l *Log, parent string, changes ChangeSet) *Record {
	r, err := l.NewRecord(parent, changes, "msg")
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return l.AppendTxn(txn, r)
	}))
	l.Commit(r)
	return r
}

func changes(added map[string]string, modified map[string]string, deleted ...string) ChangeSet {
	cs := NewChangeSet()
	for p, h := range added {
		cs.Add(Added, p, h)
	}
	for p, h := range modified {
		cs.Add(Modified, p, h)
	}
	for _, p := range deleted {
		cs.Add(Deleted, p, "")
	}
	return cs
}

func TestChangeSet(t *testing.T) {
	t.Run("AddMovesBetweenSets", func(t *testing.T) {
		cs := NewChangeSet()
		cs.Add(Added, "a", "h1")
		cs.Add(Modified, "a", "h2")
		assert.Equal(t, Modified, cs.Kind("a"))
		assert.Equal(t, 1, cs.Len())

		cs.Add(Deleted, "a", "")
		cs.Add(Deleted, "0", "")
		assert.Equal(t, []string{"0", "a"}, cs.Deleted)
		assert.Empty(t, cs.Modified)
		require.NoError(t, cs.Validate())

		cs.Remove("a")
		assert.Equal(t, "", cs.Kind("a"))
		assert.Equal(t, 1, cs.Len())
	})

	t.Run("ValidateRejectsOverlap", func(t *testing.T) {
		cs := ChangeSet{Added: map[string]string{"a": "h"}, Deleted: []string{"a"}}
		err := cs.Validate()
		assert.True(t, errors.Is(err, errors.KindValidation))
	})

	t.Run("Apply", func(t *testing.T) {
		index := map[string]string{"a": "h1", "b": "h2"}
		cs := changes(map[string]string{"c": "h3"}, map[string]string{"a": "h4"}, "b")

		out := cs.Apply(index)
		assert.Equal(t, map[string]string{"a": "h4", "c": "h3"}, out)
		// the input index is untouched
		assert.Equal(t, "h1", index["a"])

		assert.Equal(t, []string{"a", "b", "c"}, cs.Paths())
		assert.Equal(t, []string{"h3", "h4"}, cs.Hashes())
	})

	t.Run("ZeroValue", func(t *testing.T) {
		var cs ChangeSet
		assert.True(t, cs.IsEmpty())
		cs.Add(Added, "x", "h")
		assert.Equal(t, Added, cs.Kind("x"))
	})
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenerateID()
		require.NoError(t, err)
		assert.True(t, ValidID(id), id)
		seen[id] = true
	}
	assert.Len(t, seen, 1000)

	assert.False(t, ValidID("short"))
	assert.False(t, ValidID("abcdefghi!"))
}

func TestLog(t *testing.T) {
	db := setupTestDB(t)
	l, err := Open(db, nil)
	require.NoError(t, err)

	r1 := appendRecord(t, db, l, "", changes(map[string]string{"a": "h1"}, nil))
	r2 := appendRecord(t, db, l, r1.ID, changes(map[string]string{"b": "h2"}, map[string]string{"a": "h3"}))
	r3 := appendRecord(t, db, l, r2.ID, changes(nil, nil, "b"))

	t.Run("Chain", func(t *testing.T) {
		chain, err := l.Chain(r3.ID)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, []string{r1.ID, r2.ID, r3.ID}, []string{chain[0].ID, chain[1].ID, chain[2].ID})

		chain, err = l.Chain(r1.ID)
		require.NoError(t, err)
		assert.Len(t, chain, 1)

		chain, err = l.Chain("")
		require.NoError(t, err)
		assert.Empty(t, chain)
	})

	t.Run("Sequence", func(t *testing.T) {
		assert.Equal(t, uint64(1), r1.Seq)
		assert.Equal(t, uint64(3), r3.Seq)
		assert.Equal(t, 3, l.Len())
		assert.Equal(t, r2.ID, l.Records()[1].ID)
	})

	t.Run("UnknownRecord", func(t *testing.T) {
		_, err := l.Chain("ZZZZZZZZZZ")
		assert.True(t, errors.Is(err, errors.KindNotFound))

		_, err = l.NewRecord("ZZZZZZZZZZ", NewChangeSet(), "x")
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})

	t.Run("DetachedRecordAfterUndo", func(t *testing.T) {
		// a new throw on top of r2 leaves r3 in the log but off the live chain
		r4 := appendRecord(t, db, l, r2.ID, changes(map[string]string{"c": "h4"}, nil))
		chain, err := l.Chain(r4.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{r1.ID, r2.ID, r4.ID}, []string{chain[0].ID, chain[1].ID, chain[2].ID})

		chain, err = l.Chain(r3.ID)
		require.NoError(t, err)
		assert.Equal(t, r3.ID, chain[2].ID)

		require.NoError(t, l.Verify(r4.ID))
	})

	t.Run("Reopen", func(t *testing.T) {
		reopened, err := Open(db, nil)
		require.NoError(t, err)
		assert.Equal(t, l.Len(), reopened.Len())

		got, err := reopened.Get(r2.ID)
		require.NoError(t, err)
		assert.Equal(t, r2.Changes.Modified, got.Changes.Modified)
		assert.Equal(t, r2.Timestamp.Unix(), got.Timestamp.Unix())
	})
}

func TestIDCollisionRetry(t *testing.T) {
	db := setupTestDB(t)
	l, err := Open(db, nil)
	require.NoError(t, err)

	ids := []string{"AAAAAAAAAA", "AAAAAAAAAA", "AAAAAAAAAA", "BBBBBBBBBB"}
	l.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	r1 := appendRecord(t, db, l, "", changes(map[string]string{"a": "h"}, nil))
	assert.Equal(t, "AAAAAAAAAA", r1.ID)

	r2 := appendRecord(t, db, l, r1.ID, changes(map[string]string{"b": "h"}, nil))
	assert.Equal(t, "BBBBBBBBBB", r2.ID)

	l.newID = func() (string, error) { return "AAAAAAAAAA", nil }
	_, err = l.NewRecord(r2.ID, NewChangeSet(), "stuck")
	assert.True(t, errors.Is(err, errors.KindConflict))
}

func TestCorruptChain(t *testing.T) {
	t.Run("DanglingParent", func(t *testing.T) {
		db := setupTestDB(t)
		l, err := Open(db, nil)
		require.NoError(t, err)

		orphan := &Record{ID: "orphan0001", ParentID: "missing001", Seq: 1, Changes: NewChangeSet()}
		require.NoError(t, db.Update(func(txn *badger.Txn) error {
			return l.AppendTxn(txn, orphan)
		}))
		l.Commit(orphan)

		_, err = l.Chain(orphan.ID)
		assert.True(t, errors.Is(err, errors.KindCorruption))
		assert.True(t, errors.Is(l.Verify(""), errors.KindCorruption))
	})

	t.Run("Cycle", func(t *testing.T) {
		db := setupTestDB(t)
		l, err := Open(db, nil)
		require.NoError(t, err)

		a := &Record{ID: "cycleAAAAA", ParentID: "cycleBBBBB", Seq: 1, Changes: NewChangeSet()}
		b := &Record{ID: "cycleBBBBB", ParentID: "cycleAAAAA", Seq: 2, Changes: NewChangeSet()}
		for _, r := range []*Record{a, b} {
			r := r
			require.NoError(t, db.Update(func(txn *badger.Txn) error {
				return l.AppendTxn(txn, r)
			}))
			l.Commit(r)
		}

		_, err = l.Chain(b.ID)
		assert.True(t, errors.Is(err, errors.KindCorruption))
	})

	t.Run("MissingRecordForSequence", func(t *testing.T) {
		db := setupTestDB(t)
		l, err := Open(db, nil)
		require.NoError(t, err)

		require.NoError(t, l.seqs.Put(&seqEntry{Seq: 1, ID: "gone000000"}))
		_, err = Open(db, nil)
		assert.True(t, errors.Is(err, errors.KindCorruption))
	})
}
