package watcher

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.metrics.IncWatchError()
	watcher.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		// The kernel queue overflowed; the watches are intact but events
		// were lost, so rescan instead of rebuilding.
		watcher.requestResync(true)
		return
	}
	watcher.scheduleRestart(err)
}

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay * time.Duration(1<<attempt)
}

func (watcher *Watcher) scheduleRestart(err error) {
	if watcher == nil {
		return
	}
	watcher.restartMutex.Lock()
	if watcher.isClosed() {
		watcher.restartMutex.Unlock()
		return
	}
	if watcher.restartTimer != nil {
		watcher.restartMutex.Unlock()
		return
	}
	if watcher.restartAttempts >= maxRestartAttempts {
		watcher.restartMutex.Unlock()
		watcher.notifyError(fmt.Errorf("watcher restarts exhausted: %w", err))
		return
	}
	delay := restartDelay(watcher.restartAttempts)
	watcher.restartAttempts++
	watcher.restartTimer = time.AfterFunc(delay, watcher.performRestart)
	watcher.restartMutex.Unlock()
}

func (watcher *Watcher) performRestart() {
	if watcher == nil {
		return
	}
	restartErr := watcher.restart()

	watcher.restartMutex.Lock()
	watcher.restartTimer = nil
	if restartErr == nil {
		watcher.restartAttempts = 0
		watcher.restartMutex.Unlock()
		watcher.requestResync(true)
		return
	}
	watcher.restartMutex.Unlock()

	watcher.logWarn("watcher restart failed", map[string]string{
		"error": restartErr.Error(),
	})
	watcher.scheduleRestart(restartErr)
}

func (watcher *Watcher) notifyError(err error) {
	if watcher == nil || watcher.errorHandler == nil || err == nil {
		return
	}
	watcher.errorHandler(err)
}

func (watcher *Watcher) isClosed() bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.closed
}

// restart replaces the fsnotify watcher and re-adds the root and every
// instance directory. Directories that can no longer be watched are dropped
// so the following resync reports them.
func (watcher *Watcher) restart() error {
	if watcher.isClosed() {
		return nil
	}
	dirs := watcher.watchedDirs()

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := replacement.Add(watcher.root); err != nil {
		_ = replacement.Close()
		return fmt.Errorf("watch root %s: %w", watcher.root, err)
	}

	var lost []string
	for _, dir := range dirs {
		if err := replacement.Add(dir); err != nil {
			watcher.logWarn("watcher re-add failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
			lost = append(lost, dir)
		}
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := watcher.watcher
	watcher.watcher = replacement
	watcher.mutex.Unlock()

	for _, dir := range lost {
		watcher.drop(dir)
	}
	watcher.startForwarder(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	watcher.logger.Info("watcher restarted", map[string]string{
		"watches": strconv.Itoa(len(dirs) - len(lost) + 1),
	})
	return nil
}
