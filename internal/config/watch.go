package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/elonfeng/intelhub/internal/metrics"
)

// Snapshot is one published configuration and its version. Versions start at
// 1 and increase with every successful reload.
type Snapshot struct {
	Config  *Config
	Version uint64
}

// Holder publishes the current configuration to concurrent readers.
type Holder struct {
	cur atomic.Pointer[Snapshot]
}

// NewHolder creates a holder serving cfg as version 1.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.cur.Store(&Snapshot{Config: cfg, Version: 1})
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() Snapshot { return *h.cur.Load() }

// Store publishes cfg and returns its version.
func (h *Holder) Store(cfg *Config) uint64 {
	for {
		old := h.cur.Load()
		next := &Snapshot{Config: cfg, Version: old.Version + 1}
		if h.cur.CompareAndSwap(old, next) {
			return next.Version
		}
	}
}

// ReloadFunc loads a changed file and installs the result. A returned error
// leaves the previously installed value in place.
type ReloadFunc func(path string) error

// Watcher reloads a file when it changes. fsnotify events mark the file
// dirty; every interval the watcher reloads if it is dirty or its mtime moved.
type Watcher struct {
	name     string
	path     string
	interval time.Duration
	reload   ReloadFunc
	log      zerolog.Logger

	dirty   atomic.Bool
	lastMod time.Time
}

// NewWatcher creates a watcher for path.
func NewWatcher(name, path string, interval time.Duration, reload ReloadFunc, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	w := &Watcher{
		name:     name,
		path:     path,
		interval: interval,
		reload:   reload,
		log:      log.With().Str("watch", name).Str("path", path).Logger(),
	}
	if fi, err := os.Stat(path); err == nil {
		w.lastMod = fi.ModTime()
	}
	return w
}

func (w *Watcher) String() string { return "watch:" + w.name }

// Serve runs until ctx is cancelled.
func (w *Watcher) Serve(ctx context.Context) error {
	var events chan fsnotify.Event
	var errs chan error

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, polling mtime only")
	} else {
		defer fw.Close()
		// Watch the directory so editors that replace the file are still seen.
		if err := fw.Add(filepath.Dir(w.path)); err != nil {
			w.log.Warn().Err(err).Msg("watch directory failed, polling mtime only")
		} else {
			events, errs = fw.Events, fw.Errors
		}
	}

	target := filepath.Clean(w.path)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.dirty.Store(true)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn().Err(err).Msg("fsnotify error")
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reloads the file if it is dirty or its mtime changed. It reports
// whether a reload was attempted and the reload error, if any.
func (w *Watcher) Check() (bool, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("stat failed, keeping previous version")
		return false, fmt.Errorf("stat %s: %w", w.path, err)
	}

	changed := w.dirty.Swap(false) || !fi.ModTime().Equal(w.lastMod)
	if !changed {
		return false, nil
	}
	w.lastMod = fi.ModTime()

	if err := w.reload(w.path); err != nil {
		metrics.ReloadsTotal.WithLabelValues(w.name, "error").Inc()
		w.log.Warn().Err(err).Msg("reload failed, keeping previous version")
		return true, err
	}
	metrics.ReloadsTotal.WithLabelValues(w.name, "ok").Inc()
	w.log.Info().Msg("reloaded")
	return true, nil
}
