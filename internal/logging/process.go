package logging

import (
	"os"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// ProcessOptions describes the log destinations of a long-running daemon.
type ProcessOptions struct {
	Tag string
	// Level is the minimum level logged. Debug overrides it.
	Level  Level
	Debug  bool
	Syslog bool
	Stderr *os.File
}

// NewProcessLogger builds the daemon logger. Stderr is demoted to warnings
// when it is not a terminal and debug is off, so a supervisor capturing
// stderr is not flooded. The returned close func releases the syslog
// connection, if any.
func NewProcessLogger(options ProcessOptions) (*Logger, func() error) {
	level := normalizeLevel(options.Level)
	if options.Debug {
		level = LevelDebug
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stderrLevel := level
	if level != LevelDebug && !LevelAtLeast(level, LevelWarning) && !term.IsTerminal(int(stderr.Fd())) {
		stderrLevel = LevelWarning
	}

	logger := NewLoggerWithOutput(NewLogBuffer(DefaultBufferSize), level, nil).With(map[string]string{
		"run_id": uuid.NewString(),
	})
	logger.AddSink(NewWriterSink(stderr, stderrLevel))

	closer := func() error { return nil }
	if options.Syslog {
		sink, closeSyslog, err := NewSyslogSink(options.Tag, level)
		if err != nil {
			logger.Warn("syslog unavailable", map[string]string{
				"error": err.Error(),
			})
		} else {
			logger.AddSink(sink)
			closer = closeSyslog
		}
	}
	return logger, closer
}
