// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{"method", "endpoint"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transaction_transitions_total",
		Help: "State machine transitions applied, labeled by kind and target status",
	}, []string{"kind", "from", "to"})

	LedgerConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_ledger_conflicts_total",
		Help: "Optimistic concurrency collisions on account versions, labeled by operation",
	}, []string{"operation"})

	IdempotencyOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_idempotency_outcomes_total",
		Help: "Idempotency registry outcomes (fresh, replay, mismatch, timeout), labeled by scope",
	}, []string{"scope", "outcome"})

	GatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gateway_calls_total",
		Help: "Calls to external processors, labeled by gateway, operation and result",
	}, []string{"gateway", "operation", "result"})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_callbacks_total",
		Help: "Inbound gateway callbacks, labeled by result",
	}, []string{"result"})

	ReconciliationSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliation_sweeps_total",
		Help: "Reconciliation sweeps executed, labeled by result",
	}, []string{"result"})

	ReconciliationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliation_outcomes_total",
		Help: "Per-transaction reconciliation outcomes",
	}, []string{"outcome"})
)
