package reconciler

import (
	"fmt"
	"strconv"

	"bgpwatch/internal/fsutil"
)

// Bootstrap scans the root once and tracks every instance directory found.
// It runs at most once; Run calls it before consuming events.
func (reconciler *Reconciler) Bootstrap() error {
	reconciler.mutex.Lock()
	defer reconciler.mutex.Unlock()
	if reconciler.bootstrapped {
		return nil
	}

	if !fsutil.IsDir(reconciler.root) {
		return fmt.Errorf("monitor directory %s is not a directory", reconciler.root)
	}
	dirs, err := fsutil.SubDirs(reconciler.root)
	if err != nil {
		return fmt.Errorf("scan %s: %w", reconciler.root, err)
	}
	for _, dir := range dirs {
		if _, ok := reconciler.instances[dir]; ok {
			continue
		}
		reconciler.track(dir)
	}
	reconciler.bootstrapped = true
	reconciler.logger.Info("bootstrap complete", map[string]string{
		"root":      reconciler.root,
		"instances": strconv.Itoa(len(reconciler.instances)),
	})
	return nil
}
