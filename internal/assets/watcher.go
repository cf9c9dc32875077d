package assets

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"holding-parade/server/internal/telemetry"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a manifest file into a store whenever it changes on disk.
type Watcher struct {
	path     string
	store    *ManifestStore
	logger   telemetry.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onReload func(*Manifest)
}

// NewWatcher watches the directory holding path so editors that replace the
// file atomically are still observed.
func NewWatcher(path string, store *ManifestStore, logger telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.Discard()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create manifest watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "resolve manifest path %s", path)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch manifest directory for %s", path)
	}
	return &Watcher{
		path:     abs,
		store:    store,
		logger:   logger,
		debounce: defaultDebounce,
		watcher:  fsw,
	}, nil
}

// OnReload registers fn to run after every successful reload.
func (w *Watcher) OnReload(fn func(*Manifest)) {
	w.onReload = fn
}

// Run processes file events until ctx is done. It closes the underlying
// watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("manifest watcher error: %v", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	manifest, err := LoadManifest(w.path)
	if err != nil {
		w.logger.Printf("manifest reload failed, keeping previous manifest: %v", err)
		return
	}
	for _, problem := range manifest.Problems() {
		w.logger.Printf("manifest entry skipped: %s", problem)
	}
	w.store.Store(manifest)
	w.logger.Printf("manifest reloaded from %s (%d skins)", w.path, len(manifest.Skins()))
	if w.onReload != nil {
		w.onReload(manifest)
	}
}
