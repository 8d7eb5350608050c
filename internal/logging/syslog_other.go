//go:build windows || plan9

package logging

import "errors"

func NewSyslogSink(tag string, minLevel Level) (Sink, func() error, error) {
	return nil, nil, errors.New("syslog is not supported on this platform")
}
