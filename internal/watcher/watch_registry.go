package watcher

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Add watches an instance directory. Adding a directory that is already
// watched re-arms it, which picks up a directory that was deleted and
// recreated under the same name.
func (watcher *Watcher) Add(dir string) error {
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	if dir == "" {
		return errors.New("path is required")
	}
	dir = filepath.Clean(dir)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return errors.New("watcher is closed")
	}
	if watcher.watched[dir] {
		native := watcher.watcher
		watcher.mutex.Unlock()
		if err := native.Add(dir); err != nil {
			watcher.metrics.IncWatchError()
			return fmt.Errorf("rewatch %s: %w", dir, err)
		}
		return nil
	}
	if watcher.activeWatches >= watcher.maxWatches {
		watcher.mutex.Unlock()
		watcher.metrics.IncWatchError()
		return ErrMaxWatchesExceeded
	}
	watcher.watched[dir] = true
	watcher.activeWatches++
	activeCount := watcher.activeWatches
	native := watcher.watcher
	watcher.mutex.Unlock()

	if err := native.Add(dir); err != nil {
		watcher.drop(dir)
		watcher.metrics.IncWatchError()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	watcher.logDebug("watch added", dir, activeCount)
	return nil
}

// Remove releases the watch on an instance directory. The kernel drops
// watches on deleted directories by itself, so a watch that no longer
// exists is not an error.
func (watcher *Watcher) Remove(dir string) error {
	if watcher == nil {
		return nil
	}
	dir = filepath.Clean(dir)

	watcher.mutex.Lock()
	if watcher.closed || !watcher.watched[dir] {
		watcher.mutex.Unlock()
		return nil
	}
	delete(watcher.watched, dir)
	if watcher.activeWatches > 0 {
		watcher.activeWatches--
	}
	activeCount := watcher.activeWatches
	native := watcher.watcher
	watcher.mutex.Unlock()

	if err := native.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		watcher.logWarn("watch remove failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return err
	}
	watcher.logDebug("watch removed", dir, activeCount)
	return nil
}

// Watched reports whether dir currently has a watch.
func (watcher *Watcher) Watched(dir string) bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.watched[filepath.Clean(dir)]
}

func (watcher *Watcher) watchedDirs() []string {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	dirs := make([]string, 0, len(watcher.watched))
	for dir := range watcher.watched {
		dirs = append(dirs, dir)
	}
	return dirs
}

func (watcher *Watcher) drop(dir string) {
	watcher.mutex.Lock()
	if watcher.watched[dir] {
		delete(watcher.watched, dir)
		if watcher.activeWatches > 0 {
			watcher.activeWatches--
		}
	}
	watcher.mutex.Unlock()
}
