package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"bgpwatch/internal/cli"
	"bgpwatch/internal/config"
	"bgpwatch/internal/logging"

	"github.com/spf13/pflag"
)

type Config struct {
	ConfigPath  string
	MonitorDir  string
	Timeout     time.Duration
	Debug       bool
	LogLevel    logging.Level
	Syslog      bool
	Quiescence  time.Duration
	Debounce    time.Duration
	MaxWatches  int
	MetricsAddr string
	ShowVersion bool
	Sources     map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type configDefaults struct {
	MonitorDir  string
	Timeout     int
	Debug       bool
	LogLevel    logging.Level
	Syslog      bool
	Quiescence  time.Duration
	Debounce    time.Duration
	MaxWatches  int
	MetricsAddr string
}

type flagValues struct {
	ConfigPath  string
	MonitorDir  string
	Timeout     int
	Debug       bool
	LogLevel    string
	Syslog      bool
	NoSyslog    bool
	Quiescence  time.Duration
	Debounce    time.Duration
	MaxWatches  int
	MetricsAddr string
	Help        bool
	Version     bool
	Set         map[string]bool
}

type helpOption struct {
	Name string
	Desc string
}

// usageError marks a command line the flag parser rejected.
type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func (e usageError) Unwrap() error {
	return e.err
}

func loadConfig(args []string, stdout io.Writer) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults, stdout)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ShowVersion: flags.Version,
		Sources:     make(map[string]configSource),
	}

	configPath := strings.TrimSpace(os.Getenv("BGPWATCH_CONFIG"))
	if flags.Set["config"] {
		configPath = strings.TrimSpace(flags.ConfigPath)
	}
	cfg.ConfigPath = configPath
	file, err := config.Load(configPath)
	if err != nil {
		return Config{}, err
	}

	monitorDir := defaults.MonitorDir
	monitorDirSource := sourceDefault
	if file.MonitorDir != nil {
		monitorDir = *file.MonitorDir
		monitorDirSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_MONITOR_DIR")); raw != "" {
		monitorDir = raw
		monitorDirSource = sourceEnv
	}
	if flags.Set["monitor-dir"] {
		trimmed := strings.TrimSpace(flags.MonitorDir)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --monitor-dir: value cannot be empty")
		}
		monitorDir = trimmed
		monitorDirSource = sourceFlag
	}
	cfg.MonitorDir = monitorDir
	cfg.Sources["monitor-dir"] = monitorDirSource

	timeout := defaults.Timeout
	timeoutSource := sourceDefault
	if file.Timeout != nil {
		timeout = *file.Timeout
		timeoutSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_TIMEOUT")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = parsed
			timeoutSource = sourceEnv
		}
	}
	if flags.Set["timeout"] {
		if flags.Timeout <= 0 {
			return Config{}, fmt.Errorf("invalid --timeout: must be > 0")
		}
		timeout = flags.Timeout
		timeoutSource = sourceFlag
	}
	cfg.Timeout = time.Duration(timeout) * time.Second
	cfg.Sources["timeout"] = timeoutSource

	debug := defaults.Debug
	debugSource := sourceDefault
	if file.Debug != nil {
		debug = *file.Debug
		debugSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_DEBUG")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			debug = parsed
			debugSource = sourceEnv
		}
	}
	if flags.Set["debug"] {
		debug = flags.Debug
		debugSource = sourceFlag
	}
	cfg.Debug = debug
	cfg.Sources["debug"] = debugSource

	logLevel := defaults.LogLevel
	logLevelSource := sourceDefault
	if file.LogLevel != nil {
		if parsed, ok := logging.ParseLevel(*file.LogLevel); ok {
			logLevel = parsed
			logLevelSource = sourceFile
		}
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_LOG_LEVEL")); raw != "" {
		if parsed, ok := logging.ParseLevel(raw); ok {
			logLevel = parsed
			logLevelSource = sourceEnv
		}
	}
	if flags.Set["log-level"] {
		parsed, ok := logging.ParseLevel(flags.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("invalid --log-level: %q", flags.LogLevel)
		}
		logLevel = parsed
		logLevelSource = sourceFlag
	}
	cfg.LogLevel = logLevel
	cfg.Sources["log-level"] = logLevelSource

	syslog := defaults.Syslog
	syslogSource := sourceDefault
	if file.Syslog != nil {
		syslog = *file.Syslog
		syslogSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_SYSLOG")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			syslog = parsed
			syslogSource = sourceEnv
		}
	}
	if flags.Set["syslog"] {
		syslog = flags.Syslog
		syslogSource = sourceFlag
	}
	if flags.Set["no-syslog"] && flags.NoSyslog {
		syslog = false
		syslogSource = sourceFlag
	}
	cfg.Syslog = syslog
	cfg.Sources["syslog"] = syslogSource

	quiescence := defaults.Quiescence
	quiescenceSource := sourceDefault
	if file.Quiescence != nil {
		quiescence = *file.Quiescence
		quiescenceSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_QUIESCENCE")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			quiescence = parsed
			quiescenceSource = sourceEnv
		}
	}
	if flags.Set["quiescence"] {
		if flags.Quiescence <= 0 {
			return Config{}, fmt.Errorf("invalid --quiescence: must be > 0")
		}
		quiescence = flags.Quiescence
		quiescenceSource = sourceFlag
	}
	cfg.Quiescence = quiescence
	cfg.Sources["quiescence"] = quiescenceSource

	debounce := defaults.Debounce
	debounceSource := sourceDefault
	if file.Debounce != nil {
		debounce = *file.Debounce
		debounceSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_DEBOUNCE")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			debounce = parsed
			debounceSource = sourceEnv
		}
	}
	if flags.Set["debounce"] {
		if flags.Debounce <= 0 {
			return Config{}, fmt.Errorf("invalid --debounce: must be > 0")
		}
		debounce = flags.Debounce
		debounceSource = sourceFlag
	}
	cfg.Debounce = debounce
	cfg.Sources["debounce"] = debounceSource

	maxWatches := defaults.MaxWatches
	maxWatchesSource := sourceDefault
	if file.MaxWatches != nil {
		maxWatches = *file.MaxWatches
		maxWatchesSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_MAX_WATCHES")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxWatches = parsed
			maxWatchesSource = sourceEnv
		}
	}
	if flags.Set["max-watches"] {
		if flags.MaxWatches <= 0 {
			return Config{}, fmt.Errorf("invalid --max-watches: must be > 0")
		}
		maxWatches = flags.MaxWatches
		maxWatchesSource = sourceFlag
	}
	cfg.MaxWatches = maxWatches
	cfg.Sources["max-watches"] = maxWatchesSource

	metricsAddr := defaults.MetricsAddr
	metricsAddrSource := sourceDefault
	if file.MetricsAddr != nil {
		metricsAddr = strings.TrimSpace(*file.MetricsAddr)
		metricsAddrSource = sourceFile
	}
	if raw := strings.TrimSpace(os.Getenv("BGPWATCH_METRICS_ADDR")); raw != "" {
		metricsAddr = raw
		metricsAddrSource = sourceEnv
	}
	if flags.Set["metrics-addr"] {
		metricsAddr = strings.TrimSpace(flags.MetricsAddr)
		metricsAddrSource = sourceFlag
	}
	cfg.MetricsAddr = metricsAddr
	cfg.Sources["metrics-addr"] = metricsAddrSource

	return cfg, nil
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		MonitorDir: "/opt/frontend/monitor",
		Timeout:    60,
		LogLevel:   logging.LevelInfo,
		Syslog:     true,
		Quiescence: time.Second,
		Debounce:   50 * time.Millisecond,
		MaxWatches: 1024,
	}
}

func parseFlags(args []string, defaults configDefaults, stdout io.Writer) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := pflag.NewFlagSet("bgpwatch", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetNormalizeFunc(cli.UnderscoreNormalizer)
	configPath := fs.String("config", "", "YAML config file")
	monitorDir := fs.String("monitor-dir", defaults.MonitorDir, "Directory holding one subdirectory per instance")
	timeout := fs.Int("timeout", defaults.Timeout, "Poll interval in seconds")
	debug := fs.Bool("debug", defaults.Debug, "Enable debug logging")
	logLevel := fs.String("log-level", string(defaults.LogLevel), "Minimum log level: debug, info, warning, error")
	syslog := fs.Bool("syslog", defaults.Syslog, "Log to syslog")
	noSyslog := fs.Bool("no-syslog", !defaults.Syslog, "Do not log to syslog")
	_ = fs.MarkHidden("syslog")
	quiescence := fs.Duration("quiescence", defaults.Quiescence, "Idle window before polling")
	debounce := fs.Duration("debounce", defaults.Debounce, "Coalescing window for file events")
	maxWatches := fs.Int("max-watches", defaults.MaxWatches, "Max instance directory watches")
	metricsAddr := fs.String("metrics-addr", defaults.MetricsAddr, "Serve Prometheus metrics on this address")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")

	fs.Usage = func() {
		printHelp(stdout, defaults)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fs.Usage()
			return flagValues{}, err
		}
		return flagValues{}, usageError{err: err}
	}
	if fs.NArg() > 0 {
		return flagValues{}, usageError{err: fmt.Errorf("unexpected argument %q", fs.Arg(0))}
	}

	set := make(map[string]bool)
	fs.Visit(func(flag *pflag.Flag) {
		set[flag.Name] = true
	})

	flags := flagValues{
		ConfigPath:  *configPath,
		MonitorDir:  *monitorDir,
		Timeout:     *timeout,
		Debug:       *debug,
		LogLevel:    *logLevel,
		Syslog:      *syslog,
		NoSyslog:    *noSyslog,
		Quiescence:  *quiescence,
		Debounce:    *debounce,
		MaxWatches:  *maxWatches,
		MetricsAddr: *metricsAddr,
		Help:        helpVersion.Help,
		Version:     helpVersion.Version,
		Set:         set,
	}

	if flags.Help {
		fs.Usage()
		return flags, pflag.ErrHelp
	}
	return flags, nil
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: bgpwatch [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Monitor the announce file of every instance and write the resulting")
	fmt.Fprintln(out, "announce/withdraw commands to stdout for exabgp.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Monitoring", []helpOption{
		{
			Name: "--monitor-dir DIR",
			Desc: fmt.Sprintf("Instance root (env: BGPWATCH_MONITOR_DIR, default: %s)", defaults.MonitorDir),
		},
		{
			Name: "--timeout SECONDS",
			Desc: fmt.Sprintf("Poll interval (env: BGPWATCH_TIMEOUT, default: %d)", defaults.Timeout),
		},
		{
			Name: "--quiescence DURATION",
			Desc: fmt.Sprintf("Idle window before polling (env: BGPWATCH_QUIESCENCE, default: %s)", defaults.Quiescence),
		},
		{
			Name: "--debounce DURATION",
			Desc: fmt.Sprintf("Event coalescing window (env: BGPWATCH_DEBOUNCE, default: %s)", defaults.Debounce),
		},
		{
			Name: "--max-watches N",
			Desc: fmt.Sprintf("Max instance watches (env: BGPWATCH_MAX_WATCHES, default: %d)", defaults.MaxWatches),
		},
	})

	writeOptionGroup(out, "Logging", []helpOption{
		{
			Name: "--debug",
			Desc: "Enable debug logging (env: BGPWATCH_DEBUG, default: false)",
		},
		{
			Name: "--log-level LEVEL",
			Desc: fmt.Sprintf("Minimum log level (env: BGPWATCH_LOG_LEVEL, default: %s)", defaults.LogLevel),
		},
		{
			Name: "--no-syslog",
			Desc: fmt.Sprintf("Disable syslog (env: BGPWATCH_SYSLOG, default: syslog %t)", defaults.Syslog),
		},
		{
			Name: "--metrics-addr ADDR",
			Desc: "Serve /metrics (env: BGPWATCH_METRICS_ADDR, default: off)",
		},
	})

	writeOptionGroup(out, "General", []helpOption{
		{
			Name: "--config FILE",
			Desc: "YAML config file (env: BGPWATCH_CONFIG)",
		},
		{
			Name: "-h, --help",
			Desc: "Show help",
		},
		{
			Name: "-v, --version",
			Desc: "Print version and exit",
		},
	})
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	if len(options) == 0 {
		return
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, title+":")
	for _, option := range options {
		fmt.Fprintf(out, "  %-24s %s\n", option.Name, option.Desc)
	}
}

func logStartupConfig(logger *logging.Logger, cfg Config) {
	if logger == nil {
		return
	}
	fields := map[string]string{
		"monitor_dir": cfg.MonitorDir,
		"timeout":     cfg.Timeout.String(),
		"quiescence":  cfg.Quiescence.String(),
		"debounce":    cfg.Debounce.String(),
		"max_watches": strconv.Itoa(cfg.MaxWatches),
		"syslog":      strconv.FormatBool(cfg.Syslog),
		"log_level":   string(cfg.LogLevel),
	}
	if cfg.ConfigPath != "" {
		fields["config"] = cfg.ConfigPath
	}
	if cfg.MetricsAddr != "" {
		fields["metrics_addr"] = cfg.MetricsAddr
	}
	overridden := []string{}
	for _, key := range []string{"monitor-dir", "timeout", "debug", "log-level", "syslog", "quiescence", "debounce", "max-watches", "metrics-addr"} {
		if source := cfg.Sources[key]; source != sourceDefault {
			overridden = append(overridden, key+"="+string(source))
		}
	}
	if len(overridden) > 0 {
		fields["sources"] = strings.Join(overridden, " ")
	}
	logger.Debug("startup config", fields)
}
