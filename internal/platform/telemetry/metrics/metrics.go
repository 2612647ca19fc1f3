// Package metrics defines the Prometheus collectors of the gatekeeper.
//
// Collectors are registered on a caller-supplied registerer so tests can use
// an isolated registry and the process can expose the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeeper"

// Sweep labels.
const (
	SweepIdle       = "idle_ttl"
	SweepDuration   = "max_duration"
	SweepBanCleanup = "ban_cleanup"
)

// Collectors groups the gatekeeper counters.
type Collectors struct {
	SweepRuns     *prometheus.CounterVec
	SweepItems    *prometheus.CounterVec
	SweepFailures *prometheus.CounterVec
	SweepSkipped  *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Reconciliation sweep runs.",
		}, []string{"sweep"}),
		SweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Items processed successfully by a sweep.",
		}, []string{"sweep"}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweep items or runs that failed.",
		}, []string{"sweep"}),
		SweepSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Sweep runs skipped because the previous run was still in progress.",
		}, []string{"sweep"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Room-service webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.SweepRuns, c.SweepItems, c.SweepFailures, c.SweepSkipped, c.WebhookEvents)
	}
	return c
}

// Handler serves the metrics of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
