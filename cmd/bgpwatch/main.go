package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"bgpwatch/internal/command"
	"bgpwatch/internal/logging"
	"bgpwatch/internal/metrics"
	"bgpwatch/internal/reconciler"
	"bgpwatch/internal/version"
	"bgpwatch/internal/watcher"

	"github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, signalCh))
}

// run starts the daemon and blocks until a signal arrives or the watcher
// gives up. stdout carries only the command stream.
func run(args []string, stdout io.Writer, stderr *os.File, signalCh <-chan os.Signal) int {
	cfg, err := loadConfig(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "bgpwatch: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(stderr, "Run 'bgpwatch --help' for usage.")
			return exitUsage
		}
		return exitFailure
	}
	if cfg.ShowVersion {
		fmt.Fprintln(stdout, version.GetVersionInfo().String())
		return exitOK
	}

	logger, closeLogger := logging.NewProcessLogger(logging.ProcessOptions{
		Tag:    "bgpwatch",
		Level:  cfg.LogLevel,
		Debug:  cfg.Debug,
		Syslog: cfg.Syslog,
		Stderr: stderr,
	})
	defer closeLogger()
	logger.Info("bgpwatch starting", map[string]string{
		"version":     version.GetVersionInfo().Version,
		"monitor_dir": cfg.MonitorDir,
	})
	logStartupConfig(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	registry := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := registry.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", map[string]string{
					"addr":  cfg.MetricsAddr,
					"error": err.Error(),
				})
			}
		}()
	}

	fatal := make(chan error, 1)
	notifications, err := watcher.NewWithOptions(watcher.Options{
		Root:             cfg.MonitorDir,
		Logger:           logger,
		Metrics:          registry,
		Debounce:         cfg.Debounce,
		QuiescenceWindow: cfg.Quiescence,
		MaxWatches:       cfg.MaxWatches,
		ErrorHandler: func(err error) {
			select {
			case fatal <- err:
			default:
			}
		},
	})
	if err != nil {
		logger.Error("watch monitor directory failed", map[string]string{
			"path":  cfg.MonitorDir,
			"error": err.Error(),
		})
		return exitFailure
	}
	defer notifications.Close()

	writer := command.NewWriter(stdout)
	defer logRunStats(logger, writer, notifications)

	engine, err := reconciler.New(reconciler.Options{
		Root:         cfg.MonitorDir,
		Writer:       writer,
		Watches:      notifications,
		Logger:       logger,
		Metrics:      registry,
		PollInterval: cfg.Timeout,
	})
	if err != nil {
		logger.Error("create reconciler failed", map[string]string{"error": err.Error()})
		return exitFailure
	}

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx, notifications.Events())
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("reconciler stopped", map[string]string{"error": err.Error()})
			return exitFailure
		}
	case err := <-fatal:
		logger.Error("file system watcher failed", map[string]string{"error": err.Error()})
		cancel()
		<-done
		return exitFailure
	}
	logger.Info("bgpwatch stopped", nil)
	return exitOK
}

func logRunStats(logger *logging.Logger, writer *command.Writer, notifications *watcher.Watcher) {
	lines, batches := writer.Stats()
	stats := notifications.Metrics()
	logger.Info("run summary", map[string]string{
		"commands":         strconv.FormatUint(lines, 10),
		"batches":          strconv.FormatUint(batches, 10),
		"events_delivered": strconv.FormatUint(stats.EventsDelivered, 10),
		"events_coalesced": strconv.FormatUint(stats.EventsCoalesced, 10),
		"watcher_errors":   strconv.FormatUint(stats.Errors, 10),
		"active_watches":   strconv.Itoa(stats.ActiveWatches),
		"restart_attempts": strconv.Itoa(stats.RestartAttempts),
	})
}
