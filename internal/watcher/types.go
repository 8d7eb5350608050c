package watcher

import (
	"sync"
	"time"

	"bgpwatch/internal/logging"
	"bgpwatch/internal/metrics"
	"github.com/fsnotify/fsnotify"
)

// Kind classifies a normalized event.
type Kind int

const (
	// DirectoryCreated reports an instance directory that exists under the
	// root. It is also emitted for directories that were already known
	// when the watcher resynchronizes.
	DirectoryCreated Kind = iota + 1
	DirectoryRemoved
	// FileCreated covers both creation and a rename into the directory.
	FileCreated
	FileRemoved
	// Quiescence is emitted when no event was delivered for a window.
	Quiescence
)

func (kind Kind) String() string {
	switch kind {
	case DirectoryCreated:
		return "directory_created"
	case DirectoryRemoved:
		return "directory_removed"
	case FileCreated:
		return "file_created"
	case FileRemoved:
		return "file_removed"
	case Quiescence:
		return "quiescence"
	default:
		return "unknown"
	}
}

// Event is a normalized change notification. Path is the directory for
// directory events and the file for file events; Dir and Name split it.
type Event struct {
	Kind      Kind
	Path      string
	Dir       string
	Name      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Watches installs and releases watches on instance directories.
type Watches interface {
	Add(dir string) error
	Remove(dir string) error
}

// Options controls watcher behavior.
type Options struct {
	Root     string
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Debounce time.Duration
	// QuiescenceWindow is how long the stream must be idle before a
	// Quiescence event is emitted.
	QuiescenceWindow time.Duration
	MaxWatches       int
	// ResyncInterval controls how often the root is rescanned to catch
	// directories whose notifications were lost.
	ResyncInterval time.Duration
	// ErrorHandler is called once restarts are exhausted.
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsCoalesced uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the fsnotify-backed notification adapter.
type Watcher struct {
	watcher          *fsnotify.Watcher
	root             string
	mutex            sync.Mutex
	watched          map[string]bool
	activeWatches    int
	maxWatches       int
	debouncer        *debouncer
	events           chan fsnotify.Event
	errors           chan error
	flushes          chan string
	resyncs          chan bool
	out              chan Event
	done             chan struct{}
	stopped          chan struct{}
	closed           bool
	logger           *logging.Logger
	metrics          *metrics.Registry
	quiescenceWindow time.Duration
	resyncInterval   time.Duration
	errorHandler     func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	eventsDelivered uint64
	eventsCoalesced uint64
	errorCount      uint64
}
