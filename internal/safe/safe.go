// internal/safe/safe.go
package safe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/hash"
	"pebble/internal/storage"
	"pebble/shared/utils"
)

// BlobMeta stores metadata about a stored blob
type BlobMeta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *BlobMeta) GetID() string { return m.Hash }

// Safe is a content-addressable blob store. Each unique content is written
// once under objects/<hh>/<rest>; its metadata lives in badger.
type Safe struct {
	fs     afero.Fs
	root   string
	hasher hash.Hasher
	meta   *storage.BadgerStore
	cache  *lru.Cache[string, []byte]
	comp   *compressionManager
	logger *zap.Logger
	mu     sync.Mutex
}

// Options configures Safe behavior
type Options struct {
	Root        string // objects directory on the filesystem
	CacheSize   int    // number of blobs to cache
	Compression CompressionOptions
	Logger      *zap.Logger
}

// New creates a new Safe instance
func New(fsys afero.Fs, db *badger.DB, hasher hash.Hasher, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, errors.ValidationError("safe root directory is required")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if err := fsys.MkdirAll(opts.Root, 0755); err != nil {
		return nil, errors.IOFailure("creating objects directory", err).WithPath(opts.Root)
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	comp, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{
		fs:     fsys,
		root:   opts.Root,
		hasher: hasher,
		meta:   storage.NewBadgerStore(db, "blob"),
		cache:  cache,
		comp:   comp,
		logger: opts.Logger,
	}, nil
}

// Store saves content and returns its hash. name is only a hint used to
// decide whether compressing is worthwhile.
func (s *Safe) Store(name string, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	sum := s.hasher.Sum(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.meta.Exists(sum)
	if err != nil {
		return "", err
	}
	if exists {
		s.cache.Add(sum, bytes.Clone(content))
		return sum, nil
	}

	data, compressed := s.comp.compress(name, content)

	objPath := s.objectPath(sum)
	if err := utils.WriteFileAtomic(s.fs, objPath, data, 0644); err != nil {
		return "", errors.IOFailure("writing blob", err).WithPath(objPath)
	}

	meta := &BlobMeta{
		Hash:       sum,
		Size:       int64(len(content)),
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.meta.Put(meta); err != nil {
		s.fs.Remove(objPath)
		return "", fmt.Errorf("storing blob metadata: %w", err)
	}

	s.logger.Debug("stored blob",
		zap.String("hash", sum),
		zap.Int("size", len(content)),
		zap.Bool("compressed", compressed))

	s.cache.Add(sum, bytes.Clone(content))
	return sum, nil
}

// Get retrieves content by hash. Unknown hashes are NotFound; a blob whose
// file is missing or whose bytes no longer match its hash is Corruption.
func (s *Safe) Get(sum string) ([]byte, error) {
	if !s.hasher.Valid(sum) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid content hash %q", sum))
	}

	// cached slices are never handed out, callers may modify what they get
	if content, ok := s.cache.Get(sum); ok {
		return bytes.Clone(content), nil
	}

	var meta BlobMeta
	if err := s.meta.Get(sum, &meta); err != nil {
		return nil, err
	}

	objPath := s.objectPath(sum)
	data, err := afero.ReadFile(s.fs, objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Corruption("blob file missing").WithPath(objPath)
		}
		return nil, errors.IOFailure("reading blob", err).WithPath(objPath)
	}

	content := data
	if meta.Compressed {
		content, err = s.comp.decompress(data)
		if err != nil {
			return nil, errors.Corruption(fmt.Sprintf("decompressing blob %s: %v", sum, err)).WithPath(objPath)
		}
	}

	if s.hasher.Sum(content) != sum {
		return nil, errors.Corruption(fmt.Sprintf("blob %s content hash mismatch", sum)).WithPath(objPath)
	}

	s.cache.Add(sum, bytes.Clone(content))
	return content, nil
}

// Exists reports whether a blob's metadata is recorded.
func (s *Safe) Exists(sum string) (bool, error) {
	if !s.hasher.Valid(sum) {
		return false, errors.ValidationError(fmt.Sprintf("invalid content hash %q", sum))
	}
	if s.cache.Contains(sum) {
		return true, nil
	}
	return s.meta.Exists(sum)
}

// Verify re-reads a blob from disk, bypassing the cache.
func (s *Safe) Verify(sum string) error {
	s.cache.Remove(sum)
	_, err := s.Get(sum)
	return err
}

func (s *Safe) Hasher() hash.Hasher {
	return s.hasher
}

func (s *Safe) Close() {
	s.comp.close()
	s.cache.Purge()
}

func (s *Safe) objectPath(sum string) string {
	return filepath.Join(s.root, sum[:2], sum[2:])
}
