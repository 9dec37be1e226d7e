// Package watch gathers a project automatically while its working tree
// changes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"pebble/internal/errors"
	"pebble/internal/project"
	"pebble/internal/workspace"
)

const DefaultDelay = 500 * time.Millisecond

// Gatherer is satisfied by *project.Project.
type Gatherer interface {
	Gather(paths []string) (*project.GatherResult, error)
}

type Options struct {
	// Paths limits both the events that trigger a gather and the gather
	// itself. Empty means the whole tree.
	Paths []string
	// Delay is how long the tree has to stay quiet before gathering.
	Delay  time.Duration
	Logger *zap.Logger
	// OnGather is called after every gather.
	OnGather func(*project.GatherResult, error)
}

type Watcher struct {
	root     string
	fs       afero.Fs
	gatherer Gatherer
	opts     Options
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	scopes   []string

	mu     sync.RWMutex
	ignore *workspace.Ignore
}

// New watches every non-ignored directory under root. Run must be called to
// process events.
func New(root string, g Gatherer, opts Options) (*Watcher, error) {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.IOFailure("resolving watch root", err).WithPath(root)
	}

	w := &Watcher{
		root:     root,
		fs:       afero.NewOsFs(),
		gatherer: g,
		opts:     opts,
		logger:   opts.Logger.Named("watch"),
	}
	for _, p := range opts.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil, errors.ValidationError("path is outside the project").WithPath(p)
		}
		if rel == "" {
			w.scopes = nil
			break
		}
		w.scopes = append(w.scopes, rel)
	}

	if err := w.loadIgnore(); err != nil {
		return nil, err
	}

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.IOFailure("creating file watcher", err)
	}
	if err := w.addTree(root); err != nil {
		w.watcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) loadIgnore() error {
	ig, err := workspace.LoadIgnore(w.fs, w.root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.ignore = ig
	w.mu.Unlock()
	return nil
}

func (w *Watcher) ignored(rel string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ignore.Match(rel)
}

// rel returns p relative to the root with forward slashes. The root itself
// is "".
func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) addTree(dir string) error {
	return afero.Walk(w.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IOFailure("walking watch tree", err).WithPath(p)
		}
		if !info.IsDir() {
			return nil
		}
		if rel, _ := w.rel(p); rel != "" && w.ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return errors.IOFailure("watching directory", err).WithPath(p)
		}
		return nil
	})
}

// inScope reports whether an event on rel can affect the watched paths.
// Ancestors of a scope count so that creating a parent directory is seen.
func (w *Watcher) inScope(rel string) bool {
	if len(w.scopes) == 0 {
		return true
	}
	for _, s := range w.scopes {
		if rel == s || strings.HasPrefix(rel, s+"/") || strings.HasPrefix(s, rel+"/") {
			return true
		}
	}
	return false
}

// handle reports whether ev should schedule a gather.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	rel, ok := w.rel(ev.Name)
	if !ok || rel == "" {
		return false
	}
	if slices.Contains(workspace.IgnoreFiles, rel) {
		if err := w.loadIgnore(); err != nil {
			w.logger.Warn("reloading ignore patterns", zap.Error(err))
		}
	}
	if w.ignored(rel) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := w.fs.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
			}
		}
	}

	if !w.inScope(rel) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) gather() {
	res, err := w.gatherer.Gather(w.opts.Paths)
	if err != nil {
		w.logger.Error("gather failed", zap.Error(err))
	} else {
		w.logger.Info("gathered",
			zap.Int("detected", res.Detected.Len()),
			zap.Int("staged", res.Staged.Len()))
	}
	if w.opts.OnGather != nil {
		w.opts.OnGather(res, err)
	}
}

// Run processes events until ctx is done, gathering once the tree has been
// quiet for the configured delay. A pending gather is flushed before Run
// returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.opts.Delay)
	timer.Stop()
	pending := false

	w.logger.Info("watching", zap.String("root", w.root), zap.Strings("paths", w.scopes))
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			if pending {
				w.gather()
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				w.logger.Debug("change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
				timer.Reset(w.opts.Delay)
				pending = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			w.gather()
		}
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
