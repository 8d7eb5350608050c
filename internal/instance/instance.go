package instance

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"bgpwatch/internal/command"
	"bgpwatch/internal/fsutil"
	"bgpwatch/internal/logging"
	"bgpwatch/internal/metrics"
)

// AnnounceFile is the name of the file read from every instance directory.
const AnnounceFile = "announce"

const (
	DefaultInterval   = 60 * time.Second
	defaultStartFuzz  = 5 * time.Second
	defaultPollJitter = time.Second
)

// Emitter receives each batch of commands produced by a state change.
type Emitter interface {
	WriteBatch(lines []string) error
}

// Options configures an Instance. Zero values select the defaults.
type Options struct {
	Emitter  Emitter
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Interval time.Duration
	// StartFuzz bounds the random delay added to the first poll deadline.
	StartFuzz time.Duration
	// PollJitter is the width of the window, centred on Interval, from which
	// each later poll delay is drawn.
	PollJitter time.Duration
	Random     func() float64
	Now        func() time.Time
}

// Instance is the state of one instance directory.
type Instance struct {
	path         string
	name         string
	announcePath string
	interval     time.Duration
	pollJitter   time.Duration
	// accepted is nil until the announce file has been read once.
	accepted []string
	nextPoll time.Time
	emitter  Emitter
	logger   *logging.Logger
	metrics  *metrics.Registry
	random   func() float64
}

// New creates the Instance for dir and loads its announce file if one is
// present.
func New(dir string, options Options) *Instance {
	interval := options.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	startFuzz := options.StartFuzz
	if startFuzz < 0 {
		startFuzz = 0
	} else if startFuzz == 0 {
		startFuzz = defaultStartFuzz
	}
	pollJitter := options.PollJitter
	if pollJitter < 0 {
		pollJitter = 0
	} else if pollJitter == 0 {
		pollJitter = defaultPollJitter
	}
	random := options.Random
	if random == nil {
		random = rand.Float64
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)
	}

	dir = filepath.Clean(dir)
	name := filepath.Base(dir)
	instance := &Instance{
		path:         dir,
		name:         name,
		announcePath: filepath.Join(dir, AnnounceFile),
		interval:     interval,
		pollJitter:   pollJitter,
		emitter:      options.Emitter,
		metrics:      options.Metrics,
		random:       random,
		logger: logger.With(map[string]string{
			logging.CategoryKey: "instance",
			"instance":          name,
		}),
	}
	instance.nextPoll = now().Add(interval + time.Duration(random()*float64(startFuzz)))

	if instance.HasAnnounceFile() {
		instance.Reload()
	}
	return instance
}

func (instance *Instance) Path() string {
	return instance.path
}

func (instance *Instance) Name() string {
	return instance.name
}

func (instance *Instance) NextPoll() time.Time {
	return instance.nextPoll
}

// Accepted returns a copy of the lines last applied. It is nil when the
// announce file has never been read.
func (instance *Instance) Accepted() []string {
	return slices.Clone(instance.accepted)
}

func (instance *Instance) String() string {
	return "instance(" + instance.name + ")"
}

// HasAnnounceFile reports whether the announce file currently exists as a
// regular file.
func (instance *Instance) HasAnnounceFile() bool {
	return fsutil.IsRegularFile(instance.announcePath)
}

// Sync brings the accepted state in line with the disk. A present announce
// file is reloaded; a missing one has its announcements withdrawn.
func (instance *Instance) Sync() Result {
	if !instance.announceGone() {
		return instance.Reload()
	}
	count, err := instance.Withdraw()
	if err != nil {
		return ResultError
	}
	if count > 0 {
		return ResultUpdated
	}
	return ResultUnchanged
}

// announceGone reports whether the announce file is absent or not a regular
// file. Stat failures other than not-exist leave the state alone.
func (instance *Instance) announceGone() bool {
	info, err := os.Stat(instance.announcePath)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return !info.Mode().IsRegular()
}

// Reload re-reads the announce file and emits its commands when the
// accepted lines differ from the last applied state.
func (instance *Instance) Reload() Result {
	result := instance.reload()
	instance.metrics.ObserveReload(result.String())
	return result
}

func (instance *Instance) reload() Result {
	data, err := os.ReadFile(instance.announcePath)
	if err != nil {
		instance.logger.Warn("error reading announce file", map[string]string{
			"path":  instance.announcePath,
			"error": err.Error(),
		})
		return ResultError
	}

	accepted, discarded := command.Filter(string(data))
	for _, line := range discarded {
		instance.logger.Warn("discarded unknown command", map[string]string{
			"line": strconv.Quote(line),
		})
	}
	instance.metrics.AddDiscardedLines(len(discarded))

	if instance.accepted != nil && slices.Equal(accepted, instance.accepted) {
		return ResultUnchanged
	}

	if len(accepted) > 0 {
		instance.logger.Info("announcement updated", map[string]string{
			"first_command": command.Summary(accepted[0]),
			"commands":      strconv.Itoa(len(accepted)),
		})
		if err := instance.emit(accepted); err != nil {
			return ResultError
		}
	} else {
		instance.logger.Info("announcement updated", map[string]string{
			"commands": "0",
		})
	}
	instance.accepted = accepted
	return ResultUpdated
}

// Withdraw emits a withdraw command for every accepted announce line and
// makes those withdrawals the accepted state, so calling it again emits
// nothing. It returns the number of commands emitted.
func (instance *Instance) Withdraw() (int, error) {
	if len(instance.accepted) == 0 {
		return 0, nil
	}
	instance.logger.Info("withdrawing previous announcements", nil)

	withdrawals := make([]string, 0, len(instance.accepted))
	for _, line := range instance.accepted {
		if withdrawal, ok := command.Withdrawal(line); ok {
			withdrawals = append(withdrawals, withdrawal)
		}
	}
	if err := instance.emit(withdrawals); err != nil {
		return 0, err
	}
	instance.accepted = withdrawals
	instance.metrics.AddWithdrawals(len(withdrawals))
	return len(withdrawals), nil
}

// Poll syncs the instance with the disk once its poll deadline has passed. The
// second return value reports whether a reload was attempted.
func (instance *Instance) Poll(now time.Time) (Result, bool) {
	if !now.After(instance.nextPoll) {
		return ResultUnchanged, false
	}

	delay := instance.interval + time.Duration((instance.random()-0.5)*float64(instance.pollJitter))
	if delay <= 0 {
		delay = instance.interval
	}
	instance.nextPoll = now.Add(delay)
	instance.logger.Debug("polling for changes", map[string]string{
		"next_poll_in": delay.Round(10 * time.Millisecond).String(),
	})

	result := instance.Sync()
	if result == ResultUpdated {
		instance.logger.Warn("scheduled poll detected unexpected changes", nil)
		instance.metrics.IncPollAnomaly()
	}
	return result, true
}

func (instance *Instance) emit(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if instance.logger.Enabled(logging.LevelDebug) {
		for _, line := range lines {
			instance.logger.Debug("emit command", map[string]string{
				"cmd": strconv.Quote(line),
			})
		}
	}
	if instance.emitter == nil {
		return nil
	}
	if err := instance.emitter.WriteBatch(lines); err != nil {
		instance.logger.Error("command stream write failed", map[string]string{
			"error": err.Error(),
		})
		return err
	}
	instance.metrics.AddCommandsWritten(len(lines))
	return nil
}
