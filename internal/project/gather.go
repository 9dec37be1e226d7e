package project

import (
	"fmt"

	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/throw"
	"pebble/internal/workspace"
)

type GatherResult struct {
	// Detected is what this scan found against the head index.
	Detected throw.ChangeSet
	// Staged is the staging set after merging.
	Staged throw.ChangeSet
	Full   bool
}

// Gather scans paths (the whole tree when empty), captures the content of
// new and changed files into the safe and merges the result into staging.
func (p *Project) Gather(paths []string) (*GatherResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	sc, err := p.scanner()
	if err != nil {
		return nil, err
	}
	scan, err := sc.Scan(paths)
	if err != nil {
		return nil, fmt.Errorf("gathering %s: %w", p.name, err)
	}

	detected := workspace.Detect(info.FileHashIndex, scan)
	if err := p.capture(sc, &detected, scan); err != nil {
		return nil, err
	}

	prev, err := p.state.StagedEntries()
	if err != nil {
		return nil, err
	}
	staged, err := p.state.Staged()
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int64, len(prev)+len(scan.Files))
	for _, e := range prev {
		sizes[e.Path] = e.Size
	}
	for path, f := range scan.Files {
		sizes[path] = f.Size
	}

	merged := workspace.Merge(staged, detected, scan)
	if err := p.state.ReplaceStaged(merged, sizes); err != nil {
		return nil, fmt.Errorf("saving staging set: %w", err)
	}

	p.logger.Info("gathered changes",
		zap.Bool("full", scan.Full),
		zap.Int("added", len(detected.Added)),
		zap.Int("modified", len(detected.Modified)),
		zap.Int("deleted", len(detected.Deleted)),
		zap.Int("staged", merged.Len()))

	return &GatherResult{Detected: detected, Staged: merged, Full: scan.Full}, nil
}

// capture stores the current bytes of every added or modified file. A file
// that changed again since it was hashed is recorded with the stored bytes.
func (p *Project) capture(sc *workspace.Scanner, cs *throw.ChangeSet, scan *workspace.Scan) error {
	for _, path := range cs.Paths() {
		kind := cs.Kind(path)
		if kind == throw.Deleted {
			continue
		}
		content, err := sc.ReadFile(path)
		if err != nil {
			return err
		}
		sum, err := p.safe.Store(path, content)
		if err != nil {
			return fmt.Errorf("capturing %s: %w", path, err)
		}
		if f := scan.Files[path]; f.Hash != sum {
			cs.Add(kind, path, sum)
			scan.Files[path] = workspace.FileState{Hash: sum, Size: int64(len(content))}
		}
	}
	return nil
}

// Throw commits the staging set as a new record on top of the head.
func (p *Project) Throw(message string) (*throw.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	staged, err := p.state.Staged()
	if err != nil {
		return nil, err
	}
	if staged.IsEmpty() {
		return nil, errors.EmptyOperation("nothing to throw").WithProject(p.name)
	}

	for _, sum := range staged.Hashes() {
		ok, err := p.safe.Exists(sum)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Corruption(fmt.Sprintf("staged content %s is not in the safe", sum)).WithProject(p.name)
		}
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}

	rec, err := p.log.NewRecord(info.HeadID, staged, message)
	if err != nil {
		return nil, err
	}
	if err := p.commitHead(info, rec.ID, staged.Apply(info.FileHashIndex), rec); err != nil {
		return nil, err
	}

	p.logger.Info("threw",
		zap.String("record", rec.ID),
		zap.String("parent", rec.ParentID),
		zap.Int("changes", staged.Len()))
	return rec, nil
}
