// Package metrics provides Prometheus metrics for the gateway and key cache.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatehouse"

// Metrics holds the collectors registered for one process
type Metrics struct {
	decisions     *prometheus.CounterVec
	jwksFetches   *prometheus.CounterVec
	jwksKeyMisses prometheus.Counter
	upstreamCalls *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil registerer skips registration, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "decisions_total",
				Help:      "Authorization decisions by kind (pass_through, redirect, deny) and status code",
			},
			[]string{"decision", "status"},
		),
		jwksFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwks",
				Name:      "fetches_total",
				Help:      "JWKS fetches by result (ok, error)",
			},
			[]string{"result"},
		),
		jwksKeyMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwks",
				Name:      "key_misses_total",
				Help:      "Key lookups whose kid was absent from the cached key set",
			},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "calls_total",
				Help:      "Calls to the identity provider and permission service by operation and result",
			},
			[]string{"operation", "result"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.jwksFetches, m.jwksKeyMisses, m.upstreamCalls)
	}
	return m
}

// Decision records one gateway decision
func (m *Metrics) Decision(kind string, status int) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind, statusLabel(status)).Inc()
}

// JWKSFetch records a JWKS fetch outcome
func (m *Metrics) JWKSFetch(err error) {
	if m == nil {
		return
	}
	m.jwksFetches.WithLabelValues(resultLabel(err)).Inc()
}

// JWKSKeyMiss records a kid that was not found in a key set
func (m *Metrics) JWKSKeyMiss() {
	if m == nil {
		return
	}
	m.jwksKeyMisses.Inc()
}

// UpstreamCall records a call to an upstream dependency
func (m *Metrics) UpstreamCall(operation string, err error) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
