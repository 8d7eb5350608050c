package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the reconciler collectors. A nil *Registry is a valid
// receiver and records nothing.
type Registry struct {
	registry        *prometheus.Registry
	reloads         *prometheus.CounterVec
	withdrawals     prometheus.Counter
	commandsWritten prometheus.Counter
	discardedLines  prometheus.Counter
	pollAnomalies   prometheus.Counter
	untrackedEvents prometheus.Counter
	instances       prometheus.Gauge
	watchErrors     prometheus.Counter
	notifications   *prometheus.CounterVec
	quiescenceTicks prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Registry{
		registry: reg,
		reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgpwatch_reloads_total",
				Help: "Announce file reloads by result",
			},
			[]string{"result"}, // "unchanged", "updated", "error"
		),
		withdrawals: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_withdrawals_total",
			Help: "Withdraw commands synthesized from previously accepted announcements",
		}),
		commandsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_commands_written_total",
			Help: "Command lines written to the output stream",
		}),
		discardedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_discarded_lines_total",
			Help: "Announce file lines dropped for not starting with announce or withdraw",
		}),
		pollAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_poll_anomalies_total",
			Help: "Scheduled polls that found changes no notification reported",
		}),
		untrackedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_untracked_events_total",
			Help: "File events received for directories that are not tracked",
		}),
		instances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bgpwatch_instances",
			Help: "Instance directories currently tracked",
		}),
		watchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_watch_errors_total",
			Help: "Failures installing or running filesystem watches",
		}),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgpwatch_notifications_total",
				Help: "Normalized notifications dispatched by kind",
			},
			[]string{"kind"},
		),
		quiescenceTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "bgpwatch_quiescence_ticks_total",
			Help: "Quiescence ticks that drove the polling backstop",
		}),
	}
}

func (r *Registry) ObserveReload(result string) {
	if r == nil {
		return
	}
	r.reloads.WithLabelValues(strings.ToLower(result)).Inc()
}

func (r *Registry) AddWithdrawals(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.withdrawals.Add(float64(count))
}

func (r *Registry) AddCommandsWritten(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.commandsWritten.Add(float64(count))
}

func (r *Registry) AddDiscardedLines(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.discardedLines.Add(float64(count))
}

func (r *Registry) IncPollAnomaly() {
	if r == nil {
		return
	}
	r.pollAnomalies.Inc()
}

func (r *Registry) IncUntrackedEvent() {
	if r == nil {
		return
	}
	r.untrackedEvents.Inc()
}

func (r *Registry) SetInstances(count int) {
	if r == nil {
		return
	}
	r.instances.Set(float64(count))
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Inc()
}

func (r *Registry) IncNotification(kind string) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	r.notifications.WithLabelValues(kind).Inc()
}

func (r *Registry) IncQuiescenceTick() {
	if r == nil {
		return
	}
	r.quiescenceTicks.Inc()
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
