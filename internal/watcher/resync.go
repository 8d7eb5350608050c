package watcher

import (
	"path/filepath"
	"time"

	"bgpwatch/internal/fsutil"
)

// resync compares the root listing with the watch set. Unwatched
// directories are armed and reported as created and vanished ones as
// removed. With all set, every present directory is reported, which makes
// the consumer reload instances whose events may have been lost.
func (watcher *Watcher) resync(all bool) bool {
	dirs, err := fsutil.SubDirs(watcher.root)
	if err != nil {
		watcher.logWarn("resync failed", map[string]string{
			"path":  watcher.root,
			"error": err.Error(),
		})
		return true
	}

	present := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		present[dir] = true
		if !all && watcher.Watched(dir) {
			continue
		}
		watcher.arm(dir)
		if !watcher.deliver(watcher.directoryEvent(DirectoryCreated, dir)) {
			return false
		}
	}

	for _, dir := range watcher.watchedDirs() {
		if present[dir] || fsutil.Exists(dir) {
			continue
		}
		if !watcher.deliver(watcher.directoryEvent(DirectoryRemoved, dir)) {
			return false
		}
	}
	return true
}

func (watcher *Watcher) directoryEvent(kind Kind, dir string) Event {
	return Event{
		Kind:      kind,
		Path:      dir,
		Dir:       watcher.root,
		Name:      filepath.Base(dir),
		Timestamp: time.Now(),
	}
}
