package project

import (
	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/materialize"
	"pebble/internal/rebuild"
	"pebble/internal/state"
	"pebble/internal/throw"
)

// Reconstruct returns the full tree at target, or at the head when target
// is empty.
func (p *Project) Reconstruct(target string) (rebuild.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	if target == "" {
		info, err := p.state.Info()
		if err != nil {
			return nil, err
		}
		target = info.HeadID
	}
	return rebuild.Reconstruct(p.log, p.safe, target)
}

// tree is a reconstructed target: its manifest and its content.
type tree struct {
	manifest rebuild.Manifest
	snapshot rebuild.Snapshot
}

func (p *Project) reconstruct(target string) (*tree, error) {
	m, err := rebuild.ManifestAt(p.log, target)
	if err != nil {
		return nil, err
	}
	snap, err := rebuild.Resolve(m, p.safe)
	if err != nil {
		return nil, err
	}
	return &tree{manifest: m, snapshot: snap}, nil
}

func (p *Project) materialize(t *tree) (*materialize.Result, error) {
	ig, err := p.ignore()
	if err != nil {
		return nil, err
	}
	return p.mat.Materialize(t.snapshot, p.root, ig)
}

// RestoreHead rewrites the working tree to the head, then repairs the index
// from the replayed chain and clears staging.
func (p *Project) RestoreHead() (*materialize.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	return p.restoreHead(info)
}

func (p *Project) restoreHead(info *state.Info) (*materialize.Result, error) {
	t, err := p.reconstruct(info.HeadID)
	if err != nil {
		return nil, err
	}
	res, err := p.materialize(t)
	if err != nil {
		return res, err
	}
	if err := p.commitHead(info, info.HeadID, t.manifest, nil); err != nil {
		return res, err
	}

	p.logger.Info("restored head",
		zap.String("record", info.HeadID),
		zap.Int("written", len(res.Written)),
		zap.Int("removed", len(res.Removed)))
	return res, nil
}

type UndoResult struct {
	Undone *throw.Record
	HeadID string
	*materialize.Result
}

// UndoLast moves the head back to its parent and rewrites the working tree
// to match. The undone record stays in the log.
func (p *Project) UndoLast() (*UndoResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	if info.HeadID == "" {
		return nil, errors.EmptyOperation("no throws to undo").WithProject(p.name)
	}
	rec, err := p.log.Get(info.HeadID)
	if err != nil {
		return nil, err
	}

	t, err := p.reconstruct(rec.ParentID)
	if err != nil {
		return nil, err
	}
	res, err := p.materialize(t)
	if err != nil {
		return nil, err
	}
	if err := p.commitHead(info, rec.ParentID, t.manifest, nil); err != nil {
		return nil, err
	}

	p.logger.Info("undid throw",
		zap.String("record", rec.ID),
		zap.String("head", rec.ParentID))
	return &UndoResult{Undone: rec, HeadID: rec.ParentID, Result: res}, nil
}

// Checkout writes the tree at target onto the working tree without moving
// the head, so a following gather and throw records the rollback as a new
// throw. Staging is cleared.
func (p *Project) Checkout(target string) (*materialize.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	if target == "" || target == info.HeadID {
		return p.restoreHead(info)
	}

	t, err := p.reconstruct(target)
	if err != nil {
		return nil, err
	}
	res, err := p.materialize(t)
	if err != nil {
		return nil, err
	}
	if err := p.commitHead(info, info.HeadID, info.FileHashIndex, nil); err != nil {
		return nil, err
	}

	p.logger.Info("checked out",
		zap.String("record", target),
		zap.String("head", info.HeadID))
	return res, nil
}
