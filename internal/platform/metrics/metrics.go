package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across handlers and services.
type Metrics struct {
	ProposalsCreated  prometheus.Counter
	EscrowsFunded     prometheus.Counter
	Completions       prometheus.Counter
	Refunds           prometheus.Counter
	DisputesRaised    prometheus.Counter
	DisputesResolved  prometheus.Counter
	FeesAccrued       prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
	OperationFailures *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_proposals_created_total",
			Help: "Total number of escrow proposals created",
		}),
		EscrowsFunded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_escrows_funded_total",
			Help: "Total number of escrows that reached the funded state",
		}),
		Completions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_completions_total",
			Help: "Total number of completed escrows (settlement or dispute resolution)",
		}),
		Refunds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_refunds_executed_total",
			Help: "Total number of executed refunds",
		}),
		DisputesRaised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_disputes_raised_total",
			Help: "Total number of disputes raised",
		}),
		DisputesResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_disputes_resolved_total",
			Help: "Total number of disputes resolved by an arbitrator",
		}),
		FeesAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "escrowd_fees_accrued_units_total",
			Help: "Total settlement fees accrued to the governance balance, in asset units",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrowd_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		OperationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escrowd_operation_failures_total",
			Help: "Domain operation failures by operation and error code",
		}, []string{"operation", "code"}),
	}
}
