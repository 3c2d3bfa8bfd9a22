package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceDelay coalesces the write bursts editors produce into one
// reload.
const debounceDelay = 200 * time.Millisecond

// Watch reloads the store whenever its backing file changes on disk,
// until ctx is cancelled. A file that fails to parse or validate is
// logged and skipped; the last good snapshot stays live. Editors that
// replace the file via rename are handled by watching the directory.
func Watch(ctx context.Context, store *Store) error {
	watcher, errNew := fsnotify.NewWatcher()
	if errNew != nil {
		return errNew
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(store.Path())

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := store.Reload(); err != nil {
				log.WithError(err).Warn("config: reload failed, keeping previous configuration")
				continue
			}
			log.WithField("path", target).Info("config: reloaded")
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("config: watcher error")
		}
	}
}
