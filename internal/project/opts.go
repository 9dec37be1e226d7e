package project

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/config"
	"pebble/internal/errors"
	"pebble/internal/registry"
)

// Options wires a project to its surroundings. The zero value uses the OS
// filesystem, default config and no registry.
type Options struct {
	FS       afero.Fs
	Registry registry.Registry
	Logger   *zap.Logger
	Config   *config.Config

	// InMemory keeps the database in memory. Only useful in tests, since
	// nothing survives Close.
	InMemory bool
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Config == nil {
		o.Config = config.Default()
	}
	return o
}

// dbOptions returns badger options for a project database. Badger's own
// logging is disabled; errors surface through return values.
func dbOptions(path string, inMemory bool) badger.Options {
	if inMemory {
		return badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(nil)
	}
	return badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
}

// openDB opens the project database. Badger holds a directory lock, so a
// second process opening the same project fails here.
func openDB(path string, inMemory bool) (*badger.DB, error) {
	db, err := badger.Open(dbOptions(path, inMemory))
	if err != nil {
		return nil, errors.IOFailure("opening project database", err).WithPath(path)
	}
	return db, nil
}
