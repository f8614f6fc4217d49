package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher and transport collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sessions *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dapp",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC requests dispatched, by method and result code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dapp",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching RPC requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dapp",
			Subsystem: "rpc",
			Name:      "open_sessions",
			Help:      "Connections currently open, by transport.",
		}, []string{"transport"}),
	}
	reg.MustRegister(m.requests, m.duration, m.sessions)
	return m
}

func (m *Metrics) observe(method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) sessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Inc()
}

func (m *Metrics) sessionClosed(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Dec()
}
