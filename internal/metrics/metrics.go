// Package metrics holds the Prometheus collectors the bot exports on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rosterbot"

// Collectors groups every collector. All methods are safe on a nil receiver
// so components can run without metrics in tests.
type Collectors struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	denials        *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	sweepRemoved   *prometheus.CounterVec
	sweepFailures  prometheus.Counter
	lookupDuration prometheus.Histogram
}

// New creates collectors on a fresh registry. openSessions and
// gatewayConnections are sampled on every scrape; either may be nil.
func New(openSessions, gatewayConnections func() float64) *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Gateway events routed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denials_total",
			Help:      "Requests refused by throttling, capacity or session guards, by reason.",
		}, []string{"reason"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration flows that reached a terminal state, by state.",
		}, []string{"state"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Entries evicted by the expiry sweeper, by target.",
		}, []string{"target"}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweeper runs that reported an error.",
		}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_lookup_seconds",
			Help:      "Latency of ranking service lookups.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	reg.MustRegister(
		c.events, c.denials, c.registrations,
		c.sweepRemoved, c.sweepFailures, c.lookupDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if openSessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Sessions currently holding a slot under the global ceiling.",
		}, openSessions))
	}
	if gatewayConnections != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Connected gateway relays.",
		}, gatewayConnections))
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveEvent counts one routed event.
func (c *Collectors) ObserveEvent(kind, outcome string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind, outcome).Inc()
}

// ObserveDenial counts one refused request.
func (c *Collectors) ObserveDenial(reason string) {
	if c == nil {
		return
	}
	c.denials.WithLabelValues(reason).Inc()
}

// ObserveRegistration counts a flow reaching a terminal state.
func (c *Collectors) ObserveRegistration(state string) {
	if c == nil {
		return
	}
	c.registrations.WithLabelValues(state).Inc()
}

// ObserveLookup records one ranking lookup's latency in seconds.
func (c *Collectors) ObserveLookup(seconds float64) {
	if c == nil {
		return
	}
	c.lookupDuration.Observe(seconds)
}

// ObserveSweep implements sweeper.Observer.
func (c *Collectors) ObserveSweep(target string, removed int) {
	if c == nil {
		return
	}
	c.sweepRemoved.WithLabelValues(target).Add(float64(removed))
}

// ObserveSweepFailure implements sweeper.Observer.
func (c *Collectors) ObserveSweepFailure() {
	if c == nil {
		return
	}
	c.sweepFailures.Inc()
}
