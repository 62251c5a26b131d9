// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus counters/gauges for the core's
// decision activity, grounded on flywall's use of
// github.com/prometheus/client_golang elsewhere in the stack, and served
// over HTTP via github.com/gorilla/mux, flywall's router of choice for its
// own internal/api package.
package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QualifiedNetworkTransitions counts each time the ANE emits a new
	// decision for a (slot, capability).
	QualifiedNetworkTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qns",
		Name:      "qualified_network_transitions_total",
		Help:      "Number of times the ANE emitted a changed qualified-network decision.",
	}, []string{"slot", "capability"})

	// GuardingTimersActive is a gauge of currently-running guarding
	// (hysteresis) timers per (slot, capability).
	GuardingTimersActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "qns",
		Name:      "guarding_timers_active",
		Help:      "1 while a guarding timer is running for the (slot, capability), else 0.",
	}, []string{"slot", "capability"})

	// RestrictionsActive is a gauge of active restriction timers, labeled
	// by the reason tag from the Restrict/Fallback Manager.
	RestrictionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "qns",
		Name:      "restrictions_active",
		Help:      "1 while a restriction timer is active for (slot, capability, transport, reason), else 0.",
	}, []string{"slot", "capability", "transport", "reason"})

	// ThresholdRegistrations counts threshold registrations made against
	// the quality monitors.
	ThresholdRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qns",
		Name:      "threshold_registrations_total",
		Help:      "Number of threshold registrations made with a quality monitor.",
	}, []string{"radio", "measurement"})
)

func init() {
	prometheus.MustRegister(QualifiedNetworkTransitions, GuardingTimersActive, RestrictionsActive, ThresholdRegistrations)
}

// Handler returns an HTTP handler exposing the registered metrics on
// /metrics, mounted on a gorilla/mux router so it composes with any other
// routes a host process adds.
func Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}
