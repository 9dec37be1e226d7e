package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/materialize"
	"pebble/internal/registry"
)

type CloneResult struct {
	Name   string
	Source string
	Dest   string
	HeadID string
	*materialize.Result
}

// Clone looks name up in the registry and writes the head of that project
// into dest. No metadata directory is created in dest.
func Clone(reg registry.Registry, name, dest string, opts Options) (*CloneResult, error) {
	opts = opts.withDefaults()
	if reg == nil {
		reg = opts.Registry
	}
	if reg == nil {
		return nil, errors.ValidationError("clone needs a registry")
	}

	entry, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}

	src, err := Open(entry.Location, opts)
	if err != nil {
		return nil, fmt.Errorf("opening source project %s: %w", name, err)
	}
	defer src.Close()

	return src.CloneTo(dest)
}

// CloneTo writes the head of p into dest, which must be absent or empty.
func (p *Project) CloneTo(dest string) (*CloneResult, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving clone destination: %w", err)
	}
	if err := checkCloneDest(p.fs, dest); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	info, err := p.state.Info()
	if err != nil {
		return nil, err
	}
	t, err := p.reconstruct(info.HeadID)
	if err != nil {
		return nil, err
	}
	res, err := p.mat.Materialize(t.snapshot, dest, nil)
	if err != nil {
		return nil, err
	}

	p.logger.Info("cloned project",
		zap.String("dest", dest),
		zap.String("record", info.HeadID),
		zap.Int("files", len(res.Written)))
	return &CloneResult{
		Name:   p.name,
		Source: p.root,
		Dest:   dest,
		HeadID: info.HeadID,
		Result: res,
	}, nil
}

func checkCloneDest(fsys afero.Fs, dest string) error {
	info, err := fsys.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IOFailure("checking clone destination", err).WithPath(dest)
	}
	if !info.IsDir() {
		return errors.Conflict("clone destination is a file").WithPath(dest)
	}
	empty, err := afero.IsEmpty(fsys, dest)
	if err != nil {
		return errors.IOFailure("checking clone destination", err).WithPath(dest)
	}
	if !empty {
		return errors.Conflict("clone destination is not empty").WithPath(dest)
	}
	return nil
}
