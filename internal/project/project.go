// Package project ties the engine together for one working tree: the
// badger database under .pebble/db, the blob safe under .pebble/objects,
// the throw log, the head and the staging set.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/config"
	"pebble/internal/errors"
	"pebble/internal/hash"
	"pebble/internal/materialize"
	"pebble/internal/registry"
	"pebble/internal/safe"
	"pebble/internal/state"
	"pebble/internal/throw"
	"pebble/internal/workspace"
)

// Project is an open project. Mutating operations hold the write lock, read
// paths the read lock.
type Project struct {
	root   string
	name   string
	fs     afero.Fs
	opts   Options
	logger *zap.Logger

	db     *badger.DB
	hasher hash.Hasher
	safe   *safe.Safe
	log    *throw.Log
	state  *state.Store
	mat    *materialize.Materializer

	mu     sync.RWMutex
	closed bool
}

func metaDir(root string) string { return filepath.Join(root, config.MetaDir) }

// Init creates a new project in root and registers it. name defaults to the
// base name of root.
func Init(root, name, desc string, opts Options) (*Project, error) {
	opts = opts.withDefaults()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := opts.FS.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("project folder does not exist").WithPath(root)
		}
		return nil, errors.IOFailure("reading project folder", err).WithPath(root)
	}
	if !info.IsDir() {
		return nil, errors.ValidationError("project root is not a directory").WithPath(root)
	}

	if name == "" {
		name = filepath.Base(root)
	}
	if err := registry.ValidateName(name); err != nil {
		return nil, err
	}

	exists, err := afero.DirExists(opts.FS, metaDir(root))
	if err != nil {
		return nil, errors.IOFailure("checking metadata directory", err).WithPath(root)
	}
	if exists {
		return nil, errors.Conflict("project already initialized").WithPath(root)
	}
	if opts.Registry != nil {
		if _, err := opts.Registry.Lookup(name); err == nil {
			return nil, errors.Conflict("project name already registered").WithProject(name)
		} else if !errors.Is(err, errors.KindNotFound) {
			return nil, err
		}
	}

	hasher, err := hash.New(opts.Config.Hash)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{config.DBDir, config.ObjectsDir} {
		if err := opts.FS.MkdirAll(filepath.Join(metaDir(root), dir), 0755); err != nil {
			return nil, errors.IOFailure("creating metadata directory", err).WithPath(dir)
		}
	}

	p, err := open(root, opts)
	if err != nil {
		opts.FS.RemoveAll(metaDir(root))
		return nil, err
	}

	now := time.Now().UTC()
	err = p.state.CreateInfo(&state.Info{
		Name: name,
		Date: now,
		Desc: desc,
		Hash: hasher.Name(),
	})
	if err == nil && opts.Registry != nil {
		err = opts.Registry.Register(registry.Entry{
			Name:     name,
			Location: root,
			Desc:     desc,
			Date:     now,
		})
	}
	if err != nil {
		p.Close()
		opts.FS.RemoveAll(metaDir(root))
		return nil, err
	}

	if err := p.load(); err != nil {
		p.Close()
		return nil, err
	}

	p.logger.Info("initialized project",
		zap.String("root", root),
		zap.String("hash", hasher.Name()))
	return p, nil
}

// Open opens an existing project rooted at root.
func Open(root string, opts Options) (*Project, error) {
	opts = opts.withDefaults()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	exists, err := afero.DirExists(opts.FS, metaDir(root))
	if err != nil {
		return nil, errors.IOFailure("checking metadata directory", err).WithPath(root)
	}
	if !exists {
		return nil, errors.NotFound("not a pebble project").WithPath(root)
	}

	p, err := open(root, opts)
	if err != nil {
		return nil, err
	}
	if err := p.load(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// open opens the database. Components that depend on the project's hash
// algorithm are built by load once the info is readable.
func open(root string, opts Options) (*Project, error) {
	db, err := openDB(filepath.Join(metaDir(root), config.DBDir), opts.InMemory)
	if err != nil {
		return nil, err
	}
	return &Project{
		root:   root,
		fs:     opts.FS,
		opts:   opts,
		logger: opts.Logger,
		db:     db,
		state:  state.NewStore(db),
		mat:    materialize.New(opts.FS, opts.Logger),
	}, nil
}

func (p *Project) load() error {
	info, err := p.state.Info()
	if err != nil {
		return err
	}
	p.name = info.Name
	p.logger = p.opts.Logger.With(zap.String("project", info.Name))

	p.hasher, err = hash.New(info.Hash)
	if err != nil {
		return err
	}

	cfg := p.opts.Config.Storage
	comp := safe.DefaultCompressionOptions()
	comp.Enabled = cfg.Compression.Enabled
	comp.MinSize = cfg.Compression.MinSize
	comp.Level = cfg.Compression.Level

	p.safe, err = safe.New(p.fs, p.db, p.hasher, safe.Options{
		Root:        filepath.Join(metaDir(p.root), config.ObjectsDir),
		CacheSize:   cfg.CacheSize,
		Compression: comp,
		Logger:      p.logger,
	})
	if err != nil {
		return fmt.Errorf("initializing blob safe: %w", err)
	}

	p.log, err = throw.Open(p.db, p.logger)
	if err != nil {
		return fmt.Errorf("loading throw log: %w", err)
	}
	return nil
}

func (p *Project) Root() string { return p.root }

func (p *Project) Name() string { return p.name }

func (p *Project) Hasher() hash.Hasher { return p.hasher }

// Info returns the current project head.
func (p *Project) Info() (*state.Info, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.state.Info()
}

func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.close()
}

func (p *Project) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.safe != nil {
		p.safe.Close()
	}
	if err := p.db.Close(); err != nil {
		return errors.IOFailure("closing project database", err).WithProject(p.name)
	}
	return nil
}

func (p *Project) checkOpen() error {
	if p.closed {
		return errors.ValidationError("project is closed").WithProject(p.name)
	}
	return nil
}

// Delete closes the project, removes its metadata directory and drops it
// from the registry. The working tree is left alone.
func (p *Project) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	if err := p.close(); err != nil {
		return err
	}
	if err := p.fs.RemoveAll(metaDir(p.root)); err != nil {
		return errors.IOFailure("removing metadata directory", err).WithProject(p.name)
	}
	if p.opts.Registry != nil {
		if err := p.opts.Registry.Remove(p.name); err != nil {
			if !errors.Is(err, errors.KindNotFound) {
				return err
			}
			p.logger.Warn("project was not registered")
		}
	}

	p.logger.Info("deleted project", zap.String("root", p.root))
	return nil
}

func (p *Project) ignore() (*workspace.Ignore, error) {
	return workspace.LoadIgnore(p.fs, p.root)
}

func (p *Project) scanner() (*workspace.Scanner, error) {
	ig, err := p.ignore()
	if err != nil {
		return nil, err
	}
	return workspace.NewScanner(p.fs, p.root, p.hasher, ig, p.logger), nil
}

// commitHead points the head at headID with index, clears staging, and
// tells the registry.
func (p *Project) commitHead(info *state.Info, headID string, index map[string]string, rec *throw.Record) error {
	next := *info
	next.HeadID = headID
	next.FileHashIndex = index

	err := p.db.Update(func(txn *badger.Txn) error {
		if rec != nil {
			if err := p.log.AppendTxn(txn, rec); err != nil {
				return err
			}
		}
		if err := p.state.PutInfoTxn(txn, &next); err != nil {
			return err
		}
		return p.state.ClearStagedTxn(txn)
	})
	if err != nil {
		return fmt.Errorf("updating project head: %w", err)
	}
	if rec != nil {
		p.log.Commit(rec)
	}

	if p.opts.Registry != nil {
		if err := p.opts.Registry.SetHead(p.name, headID); err != nil {
			p.logger.Warn("failed to update registry head",
				zap.String("record", headID),
				zap.Error(err))
		}
	}
	return nil
}
