package workspace

import (
	"pebble/internal/throw"
)

// Detect classifies a scan against the file hash index. Deletions are only
// reported for whole-tree scans; a partial scan cannot prove a file is gone.
func Detect(index map[string]string, scan *Scan) throw.ChangeSet {
	cs := throw.NewChangeSet()
	for p, f := range scan.Files {
		old, tracked := index[p]
		switch {
		case !tracked:
			cs.Add(throw.Added, p, f.Hash)
		case old != f.Hash:
			cs.Add(throw.Modified, p, f.Hash)
		}
	}
	if scan.Full {
		for p := range index {
			if _, ok := scan.Files[p]; !ok {
				cs.Add(throw.Deleted, p, "")
			}
		}
	}
	return cs
}

// Merge folds a fresh detection into the staging set. A whole-tree scan
// replaces staging outright. A partial scan drops staged entries it
// covers, except deletions of files that are still absent, then adds the
// new entries. Staged entries outside the scan are kept.
func Merge(staged, detected throw.ChangeSet, scan *Scan) throw.ChangeSet {
	if scan.Full {
		return detected.Clone()
	}

	out := staged.Clone()
	for _, p := range staged.Paths() {
		if !scan.Covers(p) {
			continue
		}
		_, present := scan.Files[p]
		if staged.Kind(p) != throw.Deleted || present {
			out.Remove(p)
		}
	}
	for p, h := range detected.Added {
		out.Add(throw.Added, p, h)
	}
	for p, h := range detected.Modified {
		out.Add(throw.Modified, p, h)
	}
	for _, p := range detected.Deleted {
		out.Add(throw.Deleted, p, "")
	}
	return out
}
