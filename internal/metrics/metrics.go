// Package metrics defines the Prometheus collectors for the auth layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docnet"

type Metrics struct {
	logins         *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	tokenFailures  *prometheus.CounterVec
	federated      *prometheus.CounterVec
	provisioned    prometheus.Counter
	accessDecision *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logins_total",
			Help: "Password login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "token_failures_total",
			Help: "Bearer tokens that did not resolve to a principal, by kind.",
		}, []string{"kind"}),
		federated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "federated_logins_total",
			Help: "Federated login callbacks by provider and outcome.",
		}, []string{"provider", "outcome"}),
		provisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "federated_provisioned_total",
			Help: "Accounts created implicitly by federated login.",
		}),
		accessDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "access_decisions_total",
			Help: "Authorization gate decisions.",
		}, []string{"decision"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.registrations, m.tokenFailures, m.federated, m.provisioned, m.accessDecision)
	}
	return m
}

// Handler exposes g at GET /metrics. It is meant for the internal metrics
// listener, not the public API.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenFailure(kind string) {
	if m == nil {
		return
	}
	m.tokenFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Federated(provider, outcome string) {
	if m == nil {
		return
	}
	m.federated.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Provisioned() {
	if m == nil {
		return
	}
	m.provisioned.Inc()
}

func (m *Metrics) AccessDecision(decision string) {
	if m == nil {
		return
	}
	m.accessDecision.WithLabelValues(decision).Inc()
}
