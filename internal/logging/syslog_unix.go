//go:build !windows && !plan9

package logging

import "log/syslog"

type syslogSink struct {
	writer   *syslog.Writer
	minLevel Level
}

// NewSyslogSink connects to the local syslog daemon under the given tag.
func NewSyslogSink(tag string, minLevel Level) (Sink, func() error, error) {
	writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, nil, err
	}
	return &syslogSink{writer: writer, minLevel: normalizeLevel(minLevel)}, writer.Close, nil
}

func (s *syslogSink) Level() Level {
	return s.minLevel
}

func (s *syslogSink) Write(entry LogEntry) {
	message := formatEntry(entry)
	switch entry.Level {
	case LevelDebug:
		_ = s.writer.Debug(message)
	case LevelWarning:
		_ = s.writer.Warning(message)
	case LevelError:
		_ = s.writer.Err(message)
	default:
		_ = s.writer.Info(message)
	}
}
