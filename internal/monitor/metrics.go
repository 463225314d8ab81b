// internal/monitor/metrics.go
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// Transaction status labels
const (
	StatusSuccess    = "success"
	StatusRefused    = "refused"
	StatusProtocol   = "protocol_error"
	StatusTimeout    = "timeout"
	StatusLost       = "connection_lost"
	StatusConnection = "connection_error"
	StatusBusy       = "busy"
	StatusInvalid    = "invalid_argument"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// UnknownCommand labels requests that never resolved to a registry path
const UnknownCommand = "unknown"

// Metrics holds the controller collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Transactions     *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	BytesWritten     prometheus.Counter
	BytesRead        prometheus.Counter
	ConnectionEvents *prometheus.CounterVec
	Connected        prometheus.Gauge
	Readings         *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors. An empty namespace is allowed.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Controller transactions by command and status",
		}, []string{"command", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from write to prompt",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"command"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to the controller link",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes read from the controller link",
		}),
		ConnectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Link open, close and loss events",
		}, []string{"event"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the controller link is open",
		}),
		Readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Last measurement value in the unit reported by the controller",
		}, []string{"command", "field", "unit"}),
	}

	m.registry.MustRegister(
		m.Transactions,
		m.Duration,
		m.BytesWritten,
		m.BytesRead,
		m.ConnectionEvents,
		m.Connected,
		m.Readings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome records a completed transaction
func (m *Metrics) ObserveOutcome(outcome *model.Outcome) {
	if m == nil || outcome == nil || outcome.Command == nil {
		return
	}
	name := outcome.Command.Name

	status := StatusSuccess
	switch r := outcome.Result.(type) {
	case *model.ProtocolError:
		status = StatusProtocol
	case *model.Ack:
		if !r.Success {
			status = StatusRefused
		}
	case *model.Measurement:
		for field, q := range r.Values {
			m.Readings.WithLabelValues(name, field, q.Unit).Set(float64(q.Value))
		}
	}

	m.Transactions.WithLabelValues(name, status).Inc()
	m.Duration.WithLabelValues(name).Observe(outcome.Duration.Seconds())
}

// ObserveError records a transaction that ended without a parsed result
func (m *Metrics) ObserveError(command string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(command, StatusFor(err)).Inc()
	if duration > 0 {
		m.Duration.WithLabelValues(command).Observe(duration.Seconds())
	}
	if errors.Is(err, protocol.ErrConnectionLost) {
		m.ConnectionEvents.WithLabelValues("lost").Inc()
		m.Connected.Set(0)
	}
}

// ObserveConnection records an open or close of the link
func (m *Metrics) ObserveConnection(event string, open bool) {
	if m == nil {
		return
	}
	m.ConnectionEvents.WithLabelValues(event).Inc()
	if open {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// ObserveTraffic adds the byte counts since the previous call
func (m *Metrics) ObserveTraffic(written, read int64) {
	if m == nil {
		return
	}
	if written > 0 {
		m.BytesWritten.Add(float64(written))
	}
	if read > 0 {
		m.BytesRead.Add(float64(read))
	}
}

// StatusFor maps an error to its status label
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, protocol.ErrInvalidArgument):
		return StatusInvalid
	case errors.Is(err, protocol.ErrBusy):
		return StatusBusy
	case errors.Is(err, protocol.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, protocol.ErrConnectionLost):
		return StatusLost
	case errors.Is(err, protocol.ErrConnection):
		return StatusConnection
	case errors.Is(err, model.ErrController):
		return StatusRefused
	case errors.Is(err, model.ErrProtocol):
		return StatusProtocol
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}
