// Package metrics provides Prometheus metrics for the trade lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of the trade lifecycle
type Metrics struct {
	// Lifecycle
	Transitions *prometheus.CounterVec
	Proposals   *prometheus.CounterVec

	// Approvals
	ApprovalsSubmitted prometheus.Counter
	ApprovalFailures   prometheus.Counter

	// Reconciliation and recovery
	ReconcileRepairs *prometheus.CounterVec
	Recoveries       *prometheus.CounterVec
	OrphansFound     prometheus.Counter

	// Sweeps
	SweepResults *prometheus.CounterVec

	// Chain
	ConfirmationWait prometheus.Histogram
}

// NewMetrics registers the trade metrics with reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "barter"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "transitions_total",
			Help:      "Trade transitions by kind and outcome",
		}, []string{"transition", "outcome"}),
		Proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "proposals_total",
			Help:      "Trade proposals by kind and outcome",
		}, []string{"kind", "outcome"}),
		ApprovalsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "submitted_total",
			Help:      "Collection approvals confirmed",
		}),
		ApprovalFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "failures_total",
			Help:      "Collection approvals that failed and aborted a plan",
		}),
		ReconcileRepairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Trade records repaired from chain state, by resulting status",
		}, []string{"status"}),
		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "lookups_total",
			Help:      "Recovery lookups by outcome",
		}, []string{"outcome"}),
		OrphansFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "orphans_found_total",
			Help:      "Escrowed trades found on chain without a trade record",
		}),
		SweepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "items_total",
			Help:      "Expired trades processed by the sweeper, by outcome",
		}, []string{"outcome"}),
		ConfirmationWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "confirmation_wait_seconds",
			Help:      "Time spent waiting for transaction receipts",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
