// Package metrics owns every prometheus collector of the control plane.
// Collectors are registered on the default registry the first time they are
// requested, so packages that never record anything register nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "linkboost"

type Registry struct {
	transitions *prometheus.CounterVec
	reconciles  *prometheus.CounterVec
	sweepItems  *prometheus.CounterVec
	sweepRuns   *prometheus.CounterVec
	requests    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
}

var (
	once     sync.Once
	registry *Registry
)

func Default() *Registry {
	once.Do(func() {
		registry = &Registry{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "submission",
				Name:      "transitions_total",
				Help:      "Submission state transitions segmented by transition and result.",
			}, []string{"transition", "result"}),
			reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "reconcile_total",
				Help:      "Payment confirmations segmented by inbound source and outcome.",
			}, []string{"source", "outcome"}),
			sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "items_total",
				Help:      "Items handled by the expiry sweeper segmented by sweep and result.",
			}, []string{"sweep", "result"}),
			sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "runs_total",
				Help:      "Sweeper runs segmented by status.",
			}, []string{"status"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			registry.transitions,
			registry.reconciles,
			registry.sweepItems,
			registry.sweepRuns,
			registry.requests,
			registry.durations,
		)
	})
	return registry
}

func (r *Registry) Transition(transition string, err error) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(transition, result(err)).Inc()
}

func (r *Registry) Reconcile(source, outcome string) {
	if r == nil {
		return
	}
	r.reconciles.WithLabelValues(source, outcome).Inc()
}

func (r *Registry) SweepItem(sweep, res string) {
	if r == nil {
		return
	}
	r.sweepItems.WithLabelValues(sweep, res).Inc()
}

func (r *Registry) SweepRun(status string) {
	if r == nil {
		return
	}
	r.sweepRuns.WithLabelValues(status).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
