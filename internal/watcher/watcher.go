package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"bgpwatch/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce         = 50 * time.Millisecond
	defaultQuiescenceWindow = time.Second
	defaultMaxWatches       = 1024
	defaultResyncInterval   = time.Minute
	maxRestartAttempts      = 3
	restartBaseDelay        = 200 * time.Millisecond
	// forcedTickWindows bounds how many quiescence windows may pass under a
	// constant event stream before a Quiescence event is forced.
	forcedTickWindows = 10
	outputBuffer      = 64
)

var ErrMaxWatchesExceeded = errors.New("max watches exceeded")

// NewWithOptions creates a Watcher and installs the watch on the root. No
// instance directory is watched until Add is called or one is created.
func NewWithOptions(options Options) (*Watcher, error) {
	if options.Root == "" {
		return nil, errors.New("root is required")
	}
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, err
	}

	native, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := native.Add(root); err != nil {
		_ = native.Close()
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	window := options.QuiescenceWindow
	if window <= 0 {
		window = defaultQuiescenceWindow
	}

	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	resyncInterval := options.ResyncInterval
	if resyncInterval <= 0 {
		resyncInterval = defaultResyncInterval
	}

	instance := &Watcher{
		watcher:          native,
		root:             root,
		watched:          make(map[string]bool),
		activeWatches:    1,
		maxWatches:       maxWatches,
		debouncer:        newDebouncer(debounce),
		events:           make(chan fsnotify.Event, 16),
		errors:           make(chan error, 4),
		flushes:          make(chan string, 16),
		resyncs:          make(chan bool, 1),
		out:              make(chan Event, outputBuffer),
		done:             make(chan struct{}),
		stopped:          make(chan struct{}),
		logger:           logger.With(map[string]string{logging.CategoryKey: "watcher"}),
		metrics:          options.Metrics,
		quiescenceWindow: window,
		resyncInterval:   resyncInterval,
		errorHandler:     options.ErrorHandler,
	}

	instance.startForwarder(native)
	go instance.run()
	return instance, nil
}

// Root returns the absolute path of the monitored root.
func (watcher *Watcher) Root() string {
	return watcher.root
}

// Events returns the normalized event stream. It is closed by Close.
func (watcher *Watcher) Events() <-chan Event {
	return watcher.out
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	if watcher.debouncer != nil {
		watcher.debouncer.stop()
		watcher.debouncer = nil
	}
	native := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	<-watcher.stopped
	if native == nil {
		return nil
	}
	return native.Close()
}

func (watcher *Watcher) run() {
	defer close(watcher.stopped)
	defer close(watcher.out)

	quiet := time.NewTimer(watcher.quiescenceWindow)
	defer quiet.Stop()
	resync := time.NewTicker(watcher.resyncInterval)
	defer resync.Stop()
	lastTick := time.Now()

	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case path := <-watcher.flushes:
			event, ok := watcher.classify(path)
			if !ok {
				continue
			}
			if !watcher.deliver(event) {
				return
			}
			quiet.Reset(watcher.quiescenceWindow)
			if now := time.Now(); now.Sub(lastTick) >= forcedTickWindows*watcher.quiescenceWindow {
				if !watcher.deliver(Event{Kind: Quiescence, Timestamp: now}) {
					return
				}
				lastTick = now
			}
		case all := <-watcher.resyncs:
			if !watcher.resync(all) {
				return
			}
		case <-resync.C:
			if !watcher.resync(false) {
				return
			}
		case now := <-quiet.C:
			if !watcher.deliver(Event{Kind: Quiescence, Timestamp: now}) {
				return
			}
			lastTick = now
			quiet.Reset(watcher.quiescenceWindow)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) deliver(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case watcher.out <- event:
		atomic.AddUint64(&watcher.eventsDelivered, 1)
		watcher.metrics.IncNotification(event.Kind.String())
		return true
	case <-watcher.done:
		return false
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) requestResync(all bool) {
	select {
	case watcher.resyncs <- all:
	default:
	}
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Debug(message, map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	})
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := watcher.activeWatches
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		EventsCoalesced: atomic.LoadUint64(&watcher.eventsCoalesced),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
	}
}
