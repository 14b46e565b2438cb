package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "idx_relay"

type Metrics struct {
	registry *prometheus.Registry

	fetchTotal     *prometheus.CounterVec
	fetchedRecords prometheus.Counter
	malformed      prometheus.Counter
	messagesTotal  *prometheus.CounterVec
	ledgerFailures *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastSuccessTS  prometheus.Gauge
	cleanupDeleted prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Upstream fetch attempts by outcome",
	}, []string{"status"})
	m.fetchedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announcements_fetched_total",
		Help:      "Raw announcement records received from upstream",
	})
	m.malformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announcements_malformed_total",
		Help:      "Records skipped because they could not be decoded",
	})
	m.messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Per-topic message outcomes (sent, duplicate, failed)",
	}, []string{"topic", "outcome"})
	m.ledgerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_write_failures_total",
		Help:      "Delivered messages that could not be recorded in the ledger",
	}, []string{"topic"})
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed runs by final state",
	}, []string{"state"})
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of a run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last run that reached topic processing",
	})
	m.cleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_cleanup_deleted_total",
		Help:      "Ledger rows removed by retention sweeps",
	})

	m.registry.MustRegister(
		m.fetchTotal, m.fetchedRecords, m.malformed,
		m.messagesTotal, m.ledgerFailures,
		m.runsTotal, m.runDuration, m.lastSuccessTS, m.cleanupDeleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(status string) {
	m.fetchTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddFetched(records, malformed int) {
	m.fetchedRecords.Add(float64(records))
	m.malformed.Add(float64(malformed))
}

func (m *Metrics) IncSent(topic string) {
	m.messagesTotal.WithLabelValues(topic, "sent").Inc()
}

func (m *Metrics) IncDuplicate(topic string) {
	m.messagesTotal.WithLabelValues(topic, "duplicate").Inc()
}

func (m *Metrics) IncFailed(topic string) {
	m.messagesTotal.WithLabelValues(topic, "failed").Inc()
}

func (m *Metrics) IncLedgerFailure(topic string) {
	m.ledgerFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) AddCleanupDeleted(n int64) {
	m.cleanupDeleted.Add(float64(n))
}

// ObserveRun records a finished run. Successful runs also move the
// last-success timestamp.
func (m *Metrics) ObserveRun(state string, duration time.Duration, success bool, finishedAt time.Time) {
	m.runsTotal.WithLabelValues(state).Inc()
	m.runDuration.Observe(duration.Seconds())
	if success {
		m.lastSuccessTS.Set(float64(finishedAt.Unix()))
	}
}

// Push sends the registry to a Prometheus Pushgateway. Short-lived run
// invocations have no scrape window, so this is their only export path.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
