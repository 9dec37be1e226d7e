package project

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pebble/internal/errors"
	"pebble/internal/rebuild"
	"pebble/internal/registry"
	"pebble/internal/throw"
	"pebble/internal/workspace"
)

const root = "/work/demo"

type fixture struct {
	fs  afero.Fs
	reg *registry.FileRegistry
	p   *Project
}

func setupProject(t *testing.T) *fixture {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0755))
	reg := registry.NewFileRegistry(fs, "/home/.pebbles")

	p, err := Init(root, "", "demo project", Options{FS: fs, Registry: reg, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &fixture{fs: fs, reg: reg, p: p}
}

func (f *fixture) write(t *testing.T, files map[string]string) {
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, f.fs.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, afero.WriteFile(f.fs, full, []byte(content), 0644))
	}
}

func (f *fixture) remove(t *testing.T, paths ...string) {
	for _, path := range paths {
		require.NoError(t, f.fs.Remove(filepath.Join(root, path)))
	}
}

func (f *fixture) read(t *testing.T, path string) string {
	data, err := afero.ReadFile(f.fs, filepath.Join(root, path))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) exists(t *testing.T, path string) bool {
	ok, err := afero.Exists(f.fs, filepath.Join(root, path))
	require.NoError(t, err)
	return ok
}

func (f *fixture) throw(t *testing.T, message string) *throw.Record {
	_, err := f.p.Gather(nil)
	require.NoError(t, err)
	rec, err := f.p.Throw(message)
	require.NoError(t, err)
	return rec
}

func snapshotOf(files map[string]string) rebuild.Snapshot {
	snap := make(rebuild.Snapshot, len(files))
	for k, v := range files {
		snap[k] = []byte(v)
	}
	return snap
}

func TestInit(t *testing.T) {
	f := setupProject(t)

	assert.Equal(t, "demo", f.p.Name())
	info, err := f.p.Info()
	require.NoError(t, err)
	assert.Empty(t, info.HeadID)
	assert.Empty(t, info.FileHashIndex)
	assert.Equal(t, "demo project", info.Desc)
	assert.Equal(t, "sha256", info.Hash)

	for _, dir := range []string{".pebble/db", ".pebble/objects"} {
		ok, err := afero.DirExists(f.fs, filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}

	entry, err := f.reg.Lookup("demo")
	require.NoError(t, err)
	assert.Equal(t, root, entry.Location)

	t.Run("AlreadyInitialized", func(t *testing.T) {
		_, err := Init(root, "other", "", Options{FS: f.fs, Registry: f.reg, InMemory: true})
		assert.True(t, errors.Is(err, errors.KindConflict))
	})

	t.Run("DuplicateName", func(t *testing.T) {
		require.NoError(t, f.fs.MkdirAll("/work/second", 0755))
		_, err := Init("/work/second", "demo", "", Options{FS: f.fs, Registry: f.reg, InMemory: true})
		assert.True(t, errors.Is(err, errors.KindConflict))

		ok, err := afero.DirExists(f.fs, "/work/second/.pebble")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("MissingFolder", func(t *testing.T) {
		_, err := Init("/work/nowhere", "", "", Options{FS: f.fs, InMemory: true})
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})
}

func TestThrowScenario(t *testing.T) {
	f := setupProject(t)

	f.write(t, map[string]string{"a": "x"})
	r1 := f.throw(t, "R1")
	assert.Empty(t, r1.ParentID)
	assert.True(t, throw.ValidID(r1.ID))
	assert.Equal(t, throw.Added, r1.Changes.Kind("a"))

	t.Run("EmptyThrow", func(t *testing.T) {
		_, err := f.p.Throw("nothing")
		assert.True(t, errors.Is(err, errors.KindEmptyOperation))
	})

	before, err := f.p.Info()
	require.NoError(t, err)

	f.write(t, map[string]string{"a": "y", "b": "z"})
	r2 := f.throw(t, "R2")
	assert.Equal(t, r1.ID, r2.ParentID)
	assert.Equal(t, throw.Modified, r2.Changes.Kind("a"))
	assert.Equal(t, throw.Added, r2.Changes.Kind("b"))

	t.Run("CommitMonotonicity", func(t *testing.T) {
		info, err := f.p.Info()
		require.NoError(t, err)
		assert.Equal(t, r2.ID, info.HeadID)
		assert.Equal(t, r2.Changes.Apply(before.FileHashIndex), info.FileHashIndex)

		staged, err := f.p.state.Staged()
		require.NoError(t, err)
		assert.True(t, staged.IsEmpty())

		entry, err := f.reg.Lookup("demo")
		require.NoError(t, err)
		assert.Equal(t, r2.ID, entry.HeadID)
	})

	t.Run("Reconstruct", func(t *testing.T) {
		snap, err := f.p.Reconstruct(r2.ID)
		require.NoError(t, err)
		assert.Equal(t, snapshotOf(map[string]string{"a": "y", "b": "z"}), snap)

		snap, err = f.p.Reconstruct(r1.ID)
		require.NoError(t, err)
		assert.Equal(t, snapshotOf(map[string]string{"a": "x"}), snap)

		again, err := f.p.Reconstruct(r1.ID)
		require.NoError(t, err)
		assert.Equal(t, snap, again)

		_, err = f.p.Reconstruct("ZZZZZZZZZZ")
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		res, err := f.p.CloneTo("/copy")
		require.NoError(t, err)
		assert.Len(t, res.Written, 2)

		info, err := f.p.Info()
		require.NoError(t, err)
		sc := workspace.NewScanner(f.fs, "/copy", f.p.Hasher(), nil, nil)
		scan, err := sc.Scan(nil)
		require.NoError(t, err)
		assert.True(t, workspace.Detect(info.FileHashIndex, scan).IsEmpty())

		ok, err := afero.DirExists(f.fs, "/copy/.pebble")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("History", func(t *testing.T) {
		history, err := f.p.History()
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, r2.ID, history[0].ID)
		assert.Equal(t, "R1", history[1].Message)
	})

	t.Run("Verify", func(t *testing.T) {
		report, err := f.p.Verify()
		require.NoError(t, err)
		assert.True(t, report.OK(), "%v", report.Problems)
		assert.Equal(t, 2, report.Records)
		assert.Equal(t, 3, report.Blobs)
	})
}

func TestGatherPartialAndDeletes(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"src/a.go": "a", "docs/readme": "r"})
	f.throw(t, "initial")

	f.remove(t, "docs/readme")
	f.write(t, map[string]string{"src/a.go": "a2", "src/b.go": "b"})

	res, err := f.p.Gather([]string{"src"})
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.Empty(t, res.Staged.Deleted)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, res.Staged.Paths())

	// gathering again without changes leaves staging as it was
	again, err := f.p.Gather([]string{"src"})
	require.NoError(t, err)
	assert.Equal(t, res.Staged.Paths(), again.Staged.Paths())
	assert.Equal(t, res.Staged.Hashes(), again.Staged.Hashes())

	res, err = f.p.Gather(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/readme"}, res.Staged.Deleted)

	rec, err := f.p.Throw("second")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Changes.Len())

	snap, err := f.p.Reconstruct("")
	require.NoError(t, err)
	assert.Equal(t, snapshotOf(map[string]string{"src/a.go": "a2", "src/b.go": "b"}), snap)
}

func TestRestoreHead(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "x", "dir/b": "b", "notes.tmp": "scratch", ".pebbleignore": "*.tmp\n"})
	f.throw(t, "R1")

	f.write(t, map[string]string{"a": "edited", "extra/new": "n", "local.tmp": "keep"})
	f.remove(t, "dir/b")
	_, err := f.p.Gather(nil)
	require.NoError(t, err)

	res, err := f.p.RestoreHead()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "dir/b"}, res.Written)
	assert.Equal(t, []string{"extra/new"}, res.Removed)

	assert.Equal(t, "x", f.read(t, "a"))
	assert.Equal(t, "b", f.read(t, "dir/b"))
	assert.False(t, f.exists(t, "extra"))
	assert.Equal(t, "keep", f.read(t, "local.tmp"))
	assert.True(t, f.exists(t, ".pebble/db"))

	staged, err := f.p.state.Staged()
	require.NoError(t, err)
	assert.True(t, staged.IsEmpty())

	t.Run("Idempotent", func(t *testing.T) {
		res, err := f.p.RestoreHead()
		require.NoError(t, err)
		assert.False(t, res.Changed())
	})
}

func TestUndoLast(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "x"})
	r1 := f.throw(t, "R1")
	f.write(t, map[string]string{"a": "y", "b": "z"})
	r2 := f.throw(t, "R2")

	res, err := f.p.UndoLast()
	require.NoError(t, err)
	assert.Equal(t, r2.ID, res.Undone.ID)
	assert.Equal(t, r1.ID, res.HeadID)
	assert.Equal(t, "x", f.read(t, "a"))
	assert.False(t, f.exists(t, "b"))

	info, err := f.p.Info()
	require.NoError(t, err)
	assert.Equal(t, r1.ID, info.HeadID)
	assert.Len(t, info.FileHashIndex, 1)

	// the undone record is still in the log
	_, err = f.p.Record(r2.ID)
	require.NoError(t, err)

	entry, err := f.reg.Lookup("demo")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, entry.HeadID)

	t.Run("ThrowAfterUndo", func(t *testing.T) {
		f.write(t, map[string]string{"c": "c"})
		r3 := f.throw(t, "R3")
		assert.Equal(t, r1.ID, r3.ParentID)

		history, err := f.p.History()
		require.NoError(t, err)
		assert.Len(t, history, 2)

		report, err := f.p.Verify()
		require.NoError(t, err)
		assert.True(t, report.OK(), "%v", report.Problems)
	})

	t.Run("UndoToEmpty", func(t *testing.T) {
		_, err := f.p.UndoLast()
		require.NoError(t, err)
		_, err = f.p.UndoLast()
		require.NoError(t, err)

		info, err := f.p.Info()
		require.NoError(t, err)
		assert.Empty(t, info.HeadID)
		assert.False(t, f.exists(t, "a"))

		_, err = f.p.UndoLast()
		assert.True(t, errors.Is(err, errors.KindEmptyOperation))
	})
}

func TestCheckout(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "x"})
	r1 := f.throw(t, "R1")
	f.write(t, map[string]string{"a": "y", "b": "z"})
	r2 := f.throw(t, "R2")

	_, err := f.p.Checkout(r1.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", f.read(t, "a"))
	assert.False(t, f.exists(t, "b"))

	info, err := f.p.Info()
	require.NoError(t, err)
	assert.Equal(t, r2.ID, info.HeadID)

	// the rollback becomes a new linear throw
	r3 := f.throw(t, "rollback")
	assert.Equal(t, r2.ID, r3.ParentID)
	assert.Equal(t, throw.Modified, r3.Changes.Kind("a"))
	assert.Equal(t, throw.Deleted, r3.Changes.Kind("b"))

	snap, err := f.p.Reconstruct(r3.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshotOf(map[string]string{"a": "x"}), snap)

	_, err = f.p.Checkout("ZZZZZZZZZZ")
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestStatusAndDiff(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "one\ntwo\n", "b": "b"})
	f.throw(t, "R1")

	f.write(t, map[string]string{"a": "one\nTWO\n", "c": "c"})
	_, err := f.p.Gather([]string{"c"})
	require.NoError(t, err)
	f.remove(t, "b")

	st, err := f.p.Status()
	require.NoError(t, err)
	require.Len(t, st.Staged, 1)
	assert.Equal(t, "c", st.Staged[0].Path)
	assert.Equal(t, []string{"a", "b"}, st.Unstaged.Paths())
	assert.False(t, st.Clean())

	diffs, err := f.p.Diff(nil, 3)
	require.NoError(t, err)
	require.Len(t, diffs, 3)
	assert.Equal(t, "a", diffs[0].Path)
	assert.Equal(t, "@@ -1,2 +1,2 @@\n one\n-two\n+TWO\n", diffs[0].Result.Format())
	assert.Equal(t, throw.Deleted, diffs[1].Kind)
	assert.Equal(t, throw.Added, diffs[2].Kind)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "precious"})
	f.throw(t, "R1")

	info, err := f.p.Info()
	require.NoError(t, err)
	sum := info.FileHashIndex["a"]
	obj := filepath.Join(root, ".pebble/objects", sum[:2], sum[2:])
	require.NoError(t, afero.WriteFile(f.fs, obj, []byte("bitrot"), 0644))

	report, err := f.p.Verify()
	require.NoError(t, err)
	require.False(t, report.OK())
	assert.True(t, errors.Is(report.Problems[0], errors.KindCorruption))

	_, err = f.p.RestoreHead()
	assert.True(t, errors.Is(err, errors.KindCorruption))
}

func TestDelete(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "x"})
	f.throw(t, "R1")

	require.NoError(t, f.p.Delete())
	assert.False(t, f.exists(t, ".pebble"))
	assert.Equal(t, "x", f.read(t, "a"))

	_, err := f.reg.Lookup("demo")
	assert.True(t, errors.Is(err, errors.KindNotFound))

	_, err = f.p.Gather(nil)
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	reg := registry.NewFileRegistry(fs, filepath.Join(dir, "home"))
	src := filepath.Join(dir, "src")
	require.NoError(t, fs.MkdirAll(filepath.Join(src, "pkg"), 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "main.go"), []byte("package main"), 0644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "pkg", "lib.go"), []byte("package pkg"), 0644))

	opts := Options{FS: fs, Registry: reg}
	p, err := Init(src, "origin", "", opts)
	require.NoError(t, err)
	_, err = p.Gather(nil)
	require.NoError(t, err)
	_, err = p.Throw("first")
	require.NoError(t, err)
	want, err := p.Reconstruct("")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	dest := filepath.Join(dir, "clone")
	res, err := Clone(reg, "origin", dest, opts)
	require.NoError(t, err)
	assert.Len(t, res.Written, 2)

	hasher := p.Hasher()
	sc := workspace.NewScanner(fs, dest, hasher, nil, nil)
	scan, err := sc.Scan(nil)
	require.NoError(t, err)
	got := make(rebuild.Snapshot)
	for path := range scan.Files {
		content, err := sc.ReadFile(path)
		require.NoError(t, err)
		got[path] = content
	}
	assert.Equal(t, want, got)

	ok, err := afero.DirExists(fs, filepath.Join(dest, ".pebble"))
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("NonEmptyDestination", func(t *testing.T) {
		_, err := Clone(reg, "origin", dest, opts)
		assert.True(t, errors.Is(err, errors.KindConflict))
	})

	t.Run("UnknownProject", func(t *testing.T) {
		_, err := Clone(reg, "missing", filepath.Join(dir, "other"), opts)
		assert.True(t, errors.Is(err, errors.KindNotFound))
	})

	t.Run("Reopen", func(t *testing.T) {
		p, err := Open(src, opts)
		require.NoError(t, err)
		defer p.Close()

		history, err := p.History()
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestReconstructedSnapshotsAreIndependent(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{"a": "x"})
	r1 := f.throw(t, "R1")

	first, err := f.p.Reconstruct(r1.ID)
	require.NoError(t, err)
	first["a"][0] = 'Q'

	second, err := f.p.Reconstruct(r1.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", string(second["a"]))

	_, err = f.p.RestoreHead()
	require.NoError(t, err)
	assert.Equal(t, "x", f.read(t, "a"))
}

func TestRestoreHeadKeepsIgnoredFiles(t *testing.T) {
	f := setupProject(t)
	f.write(t, map[string]string{".pebbleignore": "secret.txt\n", "a": "x"})
	f.throw(t, "R1")

	f.remove(t, "a")
	f.write(t, map[string]string{"a/secret.txt": "precious"})

	_, err := f.p.RestoreHead()
	assert.True(t, errors.Is(err, errors.KindConflict))
	assert.Equal(t, "precious", f.read(t, "a/secret.txt"))

	// once the ignored file is moved away the restore goes through
	f.remove(t, "a/secret.txt")
	_, err = f.p.RestoreHead()
	require.NoError(t, err)
	assert.Equal(t, "x", f.read(t, "a"))
}
