package watcher

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"bgpwatch/internal/fsutil"
	"github.com/fsnotify/fsnotify"
)

const announceFile = "announce"

type debounceEntry struct {
	timer *time.Timer
	op    fsnotify.Op
}

type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule merges op into the pending entry for path and restarts its
// timer. It reports whether an earlier event was folded into this one.
func (debouncer *debouncer) schedule(path string, op fsnotify.Op, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[path]
	coalesced := entry.timer != nil
	entry.op |= op
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return coalesced
}

func (debouncer *debouncer) pop(path string) (fsnotify.Op, bool) {
	if debouncer == nil {
		return 0, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return 0, false
	}
	delete(debouncer.entries, path)
	return entry.op, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

const relevantOps = fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&relevantOps == 0 {
		return
	}
	path := filepath.Clean(event.Name)
	if path == watcher.root {
		watcher.logWarn("monitored root changed", map[string]string{
			"path": path,
			"op":   event.Op.String(),
		})
		return
	}
	if !watcher.isRelevant(path) {
		return
	}

	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed || watcher.debouncer == nil {
		return
	}
	if watcher.debouncer.schedule(path, event.Op, watcher.flush) {
		atomic.AddUint64(&watcher.eventsCoalesced, 1)
	}
}

func (watcher *Watcher) isRelevant(path string) bool {
	dir := filepath.Dir(path)
	if dir == watcher.root {
		return true
	}
	return filepath.Dir(dir) == watcher.root && filepath.Base(path) == announceFile
}

func (watcher *Watcher) flush(path string) {
	select {
	case watcher.flushes <- path:
	case <-watcher.done:
	}
}

// classify turns a settled path into a normalized event by looking at what
// is on disk now. Directory creations are armed before they are reported.
func (watcher *Watcher) classify(path string) (Event, bool) {
	watcher.mutex.Lock()
	if watcher.closed || watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return Event{}, false
	}
	op, ok := watcher.debouncer.pop(path)
	watcher.mutex.Unlock()
	if !ok {
		return Event{}, false
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	event := Event{Path: path, Dir: dir, Name: name, Op: op, Timestamp: time.Now()}

	if dir == watcher.root {
		switch {
		case fsutil.IsDir(path):
			watcher.arm(path)
			event.Kind = DirectoryCreated
		case !fsutil.Exists(path):
			event.Kind = DirectoryRemoved
		default:
			return Event{}, false
		}
		return event, true
	}

	if fsutil.Exists(path) {
		event.Kind = FileCreated
	} else {
		event.Kind = FileRemoved
	}
	return event, true
}

func (watcher *Watcher) arm(dir string) {
	if err := watcher.Add(dir); err != nil {
		watcher.logWarn("watch instance directory failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
	}
}
