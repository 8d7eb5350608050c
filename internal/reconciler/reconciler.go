package reconciler

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"bgpwatch/internal/instance"
	"bgpwatch/internal/logging"
	"bgpwatch/internal/metrics"
	"bgpwatch/internal/watcher"
)

// intervalSpread is the width of the window, centred on the base interval,
// from which every instance draws its own poll interval.
const intervalSpread = 5 * time.Second

// Options configures a Reconciler. Root and Writer are required.
type Options struct {
	Root         string
	Writer       instance.Emitter
	Watches      watcher.Watches
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	PollInterval time.Duration
	Rand         func() float64
	Now          func() time.Time
}

// Reconciler maps instance directories to their state. Handle serializes
// every mutation so no two events are processed concurrently.
type Reconciler struct {
	mutex        sync.Mutex
	root         string
	instances    map[string]*instance.Instance
	writer       instance.Emitter
	watches      watcher.Watches
	logger       *logging.Logger
	metrics      *metrics.Registry
	pollInterval time.Duration
	random       func() float64
	now          func() time.Time
	bootstrapped bool
}

func New(options Options) (*Reconciler, error) {
	if options.Root == "" {
		return nil, errors.New("root is required")
	}
	if options.Writer == nil {
		return nil, errors.New("writer is required")
	}
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = instance.DefaultInterval
	}
	random := options.Rand
	if random == nil {
		random = rand.Float64
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		root:         root,
		instances:    make(map[string]*instance.Instance),
		writer:       options.Writer,
		watches:      options.Watches,
		logger:       logger.With(map[string]string{logging.CategoryKey: "reconciler"}),
		metrics:      options.Metrics,
		pollInterval: pollInterval,
		random:       random,
		now:          now,
	}, nil
}

// Run bootstraps if needed and then handles events until ctx is done or
// the channel is closed.
func (reconciler *Reconciler) Run(ctx context.Context, events <-chan watcher.Event) error {
	if err := reconciler.Bootstrap(); err != nil {
		return err
	}
	reconciler.logger.Info("waiting for file system events", map[string]string{
		"root":      reconciler.root,
		"instances": strconv.Itoa(reconciler.Len()),
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			reconciler.Handle(event)
		}
	}
}

// Handle applies one normalized event.
func (reconciler *Reconciler) Handle(event watcher.Event) {
	reconciler.mutex.Lock()
	defer reconciler.mutex.Unlock()

	switch event.Kind {
	case watcher.DirectoryCreated:
		reconciler.directoryCreated(filepath.Clean(event.Path))
	case watcher.DirectoryRemoved:
		reconciler.directoryRemoved(filepath.Clean(event.Path))
	case watcher.FileCreated, watcher.FileRemoved:
		reconciler.fileChanged(event)
	case watcher.Quiescence:
		now := event.Timestamp
		if now.IsZero() {
			now = reconciler.now()
		}
		reconciler.metrics.IncQuiescenceTick()
		reconciler.poll(now)
	default:
		reconciler.logger.Debug("ignoring event", map[string]string{
			"kind": event.Kind.String(),
			"path": event.Path,
		})
	}
}

// Instances returns the tracked directory paths in sorted order.
func (reconciler *Reconciler) Instances() []string {
	reconciler.mutex.Lock()
	defer reconciler.mutex.Unlock()
	return reconciler.sortedPaths()
}

// Len reports the number of tracked instances.
func (reconciler *Reconciler) Len() int {
	reconciler.mutex.Lock()
	defer reconciler.mutex.Unlock()
	return len(reconciler.instances)
}

// Instance returns the state tracked for dir, if any.
func (reconciler *Reconciler) Instance(dir string) (*instance.Instance, bool) {
	reconciler.mutex.Lock()
	defer reconciler.mutex.Unlock()
	tracked, ok := reconciler.instances[filepath.Clean(dir)]
	return tracked, ok
}

func (reconciler *Reconciler) directoryCreated(dir string) {
	if filepath.Dir(dir) != reconciler.root {
		reconciler.logger.Debug("ignoring directory outside root", map[string]string{"path": dir})
		return
	}
	if tracked, ok := reconciler.instances[dir]; ok {
		reconciler.watch(dir)
		tracked.Sync()
		return
	}
	reconciler.track(dir)
}

func (reconciler *Reconciler) directoryRemoved(dir string) {
	tracked, ok := reconciler.instances[dir]
	if !ok {
		reconciler.logger.Debug("removed directory was not tracked", map[string]string{"path": dir})
		return
	}
	reconciler.logger.Info("instance removed", map[string]string{"instance": tracked.Name()})
	if _, err := tracked.Withdraw(); err != nil {
		reconciler.logger.Error("withdraw failed", map[string]string{
			"instance": tracked.Name(),
			"error":    err.Error(),
		})
	}
	delete(reconciler.instances, dir)
	reconciler.metrics.SetInstances(len(reconciler.instances))
	if reconciler.watches != nil {
		if err := reconciler.watches.Remove(dir); err != nil {
			reconciler.logger.Debug("release watch failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}
}

func (reconciler *Reconciler) fileChanged(event watcher.Event) {
	if event.Name != instance.AnnounceFile {
		return
	}
	dir := filepath.Clean(event.Dir)
	tracked, ok := reconciler.instances[dir]
	if !ok {
		reconciler.logger.Warn("event for untracked instance", map[string]string{
			"path": event.Path,
			"kind": event.Kind.String(),
		})
		reconciler.metrics.IncUntrackedEvent()
		return
	}

	tracked.Sync()
}

func (reconciler *Reconciler) poll(now time.Time) {
	for _, dir := range reconciler.sortedPaths() {
		reconciler.instances[dir].Poll(now)
	}
}

// track installs the watch and registers a new instance for dir. A failed
// watch still tracks the instance so polling keeps it convergent.
func (reconciler *Reconciler) track(dir string) *instance.Instance {
	reconciler.watch(dir)
	tracked := instance.New(dir, instance.Options{
		Emitter:  reconciler.writer,
		Logger:   reconciler.logger,
		Metrics:  reconciler.metrics,
		Interval: reconciler.instanceInterval(),
		Random:   reconciler.random,
		Now:      reconciler.now,
	})
	reconciler.instances[dir] = tracked
	reconciler.metrics.SetInstances(len(reconciler.instances))
	reconciler.logger.Info("tracking instance", map[string]string{
		"instance": tracked.Name(),
		"path":     dir,
	})
	return tracked
}

func (reconciler *Reconciler) watch(dir string) {
	if reconciler.watches == nil {
		return
	}
	if err := reconciler.watches.Add(dir); err != nil {
		reconciler.logger.Error("watch instance directory failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		reconciler.metrics.IncWatchError()
	}
}

func (reconciler *Reconciler) instanceInterval() time.Duration {
	interval := reconciler.pollInterval + time.Duration((reconciler.random()-0.5)*float64(intervalSpread))
	if interval <= 0 {
		return reconciler.pollInterval
	}
	return interval
}

func (reconciler *Reconciler) sortedPaths() []string {
	paths := make([]string, 0, len(reconciler.instances))
	for dir := range reconciler.instances {
		paths = append(paths, dir)
	}
	sort.Strings(paths)
	return paths
}
