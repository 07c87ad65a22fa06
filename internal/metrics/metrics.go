// Package metrics records API traffic and orchestration outcomes as
// Prometheus collectors. A nil *Recorder is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Recorder holds the collectors shared by the client, executor, waiter and reconciler.
type Recorder struct {
	requestDuration *prometheus.HistogramVec
	mutations       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	confirmTimeouts *prometheus.CounterVec
	reconcile       *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treeops",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of calls to the remote API",
			Buckets:   histogramBuckets,
		}, []string{"method", "status"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeops",
			Subsystem: "executor",
			Name:      "mutations_total",
			Help:      "Mutation calls by method and final status",
		}, []string{"method", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeops",
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Mutation attempts repeated after a retryable status",
		}, []string{"method"}),
		confirmTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeops",
			Subsystem: "waiter",
			Name:      "confirmation_timeouts_total",
			Help:      "Mutations whose effect was not observed before the ceiling",
		}, []string{"strategy"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeops",
			Subsystem: "reconciler",
			Name:      "items_total",
			Help:      "Reconciled override values by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.requestDuration, r.mutations, r.retries, r.confirmTimeouts, r.reconcile} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveRequest records the latency of one HTTP round trip.
func (r *Recorder) ObserveRequest(method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Mutation counts a finished mutation with its final status code.
func (r *Recorder) Mutation(method string, status int) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Retry counts one repeated mutation attempt.
func (r *Recorder) Retry(method string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(method).Inc()
}

// ConfirmationTimeout counts a confirmation poll that hit its ceiling.
func (r *Recorder) ConfirmationTimeout(strategy string) {
	if r == nil {
		return
	}
	r.confirmTimeouts.WithLabelValues(strategy).Inc()
}

// ReconcileOutcome counts one reconciled item.
func (r *Recorder) ReconcileOutcome(outcome string) {
	if r == nil {
		return
	}
	r.reconcile.WithLabelValues(outcome).Inc()
}
