package project

import (
	"fmt"
	"maps"
	"slices"

	"pebble/internal/diff"
	"pebble/internal/errors"
	"pebble/internal/rebuild"
	"pebble/internal/state"
	"pebble/internal/throw"
	"pebble/internal/workspace"
)

type Status struct {
	HeadID   string
	Staged   []state.StagedChange
	Unstaged throw.ChangeSet
}

func (s *Status) Clean() bool {
	return len(s.Staged) == 0 && s.Unstaged.IsEmpty()
}

// Status reports the staging set and the working tree changes that are
// not staged yet.
func (p *Project) Status() (*Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	entries, err := p.state.StagedEntries()
	if err != nil {
		return nil, err
	}
	staged, err := p.state.Staged()
	if err != nil {
		return nil, err
	}

	sc, err := p.scanner()
	if err != nil {
		return nil, err
	}
	scan, err := sc.Scan(nil)
	if err != nil {
		return nil, err
	}

	return &Status{
		HeadID:   info.HeadID,
		Staged:   entries,
		Unstaged: workspace.Detect(staged.Apply(info.FileHashIndex), scan),
	}, nil
}

// History returns the live chain, head first.
func (p *Project) History() ([]*throw.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	chain, err := p.log.Chain(info.HeadID)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(chain)
	slices.Reverse(out)
	return out, nil
}

func (p *Project) Record(id string) (*throw.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.log.Get(id)
}

type FileDiff struct {
	Path   string
	Kind   string
	Result *diff.DiffResult
}

// Diff compares the head content of paths (the whole tree when empty) with
// the working tree.
func (p *Project) Diff(paths []string, contextLines int) ([]FileDiff, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
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
		return nil, err
	}

	changes := workspace.Detect(info.FileHashIndex, scan)
	engine := diff.NewEngine(contextLines)

	var out []FileDiff
	for _, path := range changes.Paths() {
		kind := changes.Kind(path)

		var before, after []byte
		if kind != throw.Added {
			if before, err = p.safe.Get(info.FileHashIndex[path]); err != nil {
				return nil, fmt.Errorf("loading head content of %s: %w", path, err)
			}
		}
		if kind != throw.Deleted {
			if after, err = sc.ReadFile(path); err != nil {
				return nil, err
			}
		}
		out = append(out, FileDiff{Path: path, Kind: kind, Result: engine.Diff(before, after)})
	}
	return out, nil
}

type VerifyReport struct {
	Records  int
	Blobs    int
	Problems []error
}

func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// Verify checks the chain structure, every blob any record references, and
// that the head index matches the replayed head.
func (p *Project) Verify() (*VerifyReport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}

	records := p.log.Records()
	report := &VerifyReport{Records: len(records)}
	if err := p.log.Verify(info.HeadID); err != nil {
		report.Problems = append(report.Problems, err)
	}

	seen := make(map[string]bool)
	for _, r := range records {
		for _, sum := range r.Changes.Hashes() {
			if seen[sum] {
				continue
			}
			seen[sum] = true
			if err := p.safe.Verify(sum); err != nil {
				if errors.Is(err, errors.KindNotFound) {
					err = errors.Corruption(fmt.Sprintf("blob %s is missing", sum)).WithRecord(r.ID)
				}
				report.Problems = append(report.Problems, err)
			}
		}
	}
	report.Blobs = len(seen)

	if report.OK() {
		m, err := rebuild.ManifestAt(p.log, info.HeadID)
		if err != nil {
			report.Problems = append(report.Problems, err)
		} else if !maps.Equal(m, rebuild.Manifest(info.FileHashIndex)) {
			report.Problems = append(report.Problems,
				errors.Corruption("head index does not match the replayed chain").WithRecord(info.HeadID))
		}
	}
	return report, nil
}
