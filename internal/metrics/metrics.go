// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metrics. Each Metrics owns its own
// registry so several engines (and tests) can coexist in one process.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	transactionsTotal  *prometheus.CounterVec
	transactionRetries prometheus.Counter
	callbackPanics     prometheus.Counter
	remoteErrors       *prometheus.CounterVec
	pendingWrites      prometheus.Gauge
	activeListens      prometheus.Gauge
}

// New creates and registers the engine metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesync_operations_total",
				Help: "Total number of operations applied to the sync tree",
			},
			[]string{"type", "source"},
		),

		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesync_events_total",
				Help: "Total number of events delivered to listeners",
			},
			[]string{"type"},
		),

		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesync_transactions_total",
				Help: "Total number of finished transactions",
			},
			[]string{"outcome"},
		),

		transactionRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "treesync_transaction_retries_total",
				Help: "Total number of transaction reruns after a stale write",
			},
		),

		callbackPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "treesync_callback_panics_total",
				Help: "Total number of recovered listener callback panics",
			},
		),

		remoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treesync_remote_errors_total",
				Help: "Total number of errors reported by the remote data source",
			},
			[]string{"operation", "code"},
		),

		pendingWrites: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "treesync_pending_writes",
				Help: "Current number of unacknowledged user writes",
			},
		),

		activeListens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "treesync_active_listens",
				Help: "Current number of remote listens",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOperation records an operation applied to the sync tree.
func (m *Metrics) RecordOperation(opType, source string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(opType, source).Inc()
}

// RecordEvent records a delivered event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordTransaction records a finished transaction. outcome is one of
// "committed", "aborted" or "failed".
func (m *Metrics) RecordTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry records a transaction rerun.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.transactionRetries.Inc()
}

// RecordCallbackPanic records a recovered callback panic.
func (m *Metrics) RecordCallbackPanic() {
	if m == nil {
		return
	}
	m.callbackPanics.Inc()
}

// RecordRemoteError records an error returned by the data source.
func (m *Metrics) RecordRemoteError(operation, code string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(operation, code).Inc()
}

// UpdatePendingWrites sets the pending write count.
func (m *Metrics) UpdatePendingWrites(n int) {
	if m == nil {
		return
	}
	m.pendingWrites.Set(float64(n))
}

// UpdateActiveListens sets the remote listen count.
func (m *Metrics) UpdateActiveListens(n int) {
	if m == nil {
		return
	}
	m.activeListens.Set(float64(n))
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server is a separate HTTP server for the metrics endpoint.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server on addr serving m at path.
func NewServer(addr, path string, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
