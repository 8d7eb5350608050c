package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bgpwatch/internal/logging"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration. Nil fields were not set and
// leave the lower layer in place.
type File struct {
	MonitorDir  *string        `yaml:"monitor-dir"`
	Timeout     *int           `yaml:"timeout"`
	Debug       *bool          `yaml:"debug"`
	LogLevel    *string        `yaml:"log-level"`
	Syslog      *bool          `yaml:"syslog"`
	Quiescence  *time.Duration `yaml:"quiescence"`
	Debounce    *time.Duration `yaml:"debounce"`
	MaxWatches  *int           `yaml:"max-watches"`
	MetricsAddr *string        `yaml:"metrics-addr"`
}

// Load reads the file at path. An empty path yields an empty File.
func Load(path string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return File{}, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	file, err := Decode(payload)
	if err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

// Decode parses a YAML document. Unknown keys are rejected.
func Decode(payload []byte) (File, error) {
	file := File{}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, err
	}
	if err := file.validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (file File) validate() error {
	if file.MonitorDir != nil && strings.TrimSpace(*file.MonitorDir) == "" {
		return errors.New("monitor-dir cannot be empty")
	}
	if file.LogLevel != nil {
		if _, ok := logging.ParseLevel(*file.LogLevel); !ok {
			return fmt.Errorf("unknown log-level %q", *file.LogLevel)
		}
	}
	if file.Timeout != nil && *file.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if file.Quiescence != nil && *file.Quiescence <= 0 {
		return errors.New("quiescence must be > 0")
	}
	if file.Debounce != nil && *file.Debounce <= 0 {
		return errors.New("debounce must be > 0")
	}
	if file.MaxWatches != nil && *file.MaxWatches <= 0 {
		return errors.New("max-watches must be > 0")
	}
	return nil
}
