// Package metrics exposes the Prometheus instruments shared by the gateway,
// workers, and orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderlink"

var (
	// RequestsTotal counts request/reply calls issued by adapters, per queue.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "requests_total",
		Help:      "Request/reply calls published to a worker queue.",
	}, []string{"queue"})

	// RepliesTotal counts resolved replies by status (SUCCESS or ERROR).
	RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "replies_total",
		Help:      "Replies matched to a pending correlation id.",
	}, []string{"status"})

	// TimeoutsTotal counts request/reply calls that expired before a reply.
	TimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "timeouts_total",
		Help:      "Request/reply calls that timed out waiting for a reply.",
	}, []string{"queue"})

	// OrphanRepliesTotal counts replies for unknown or expired correlation ids.
	OrphanRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "orphan_replies_total",
		Help:      "Replies discarded because no pending call matched.",
	})

	// DeadLetteredTotal counts messages moved to a dead-letter queue.
	DeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dead_lettered_total",
		Help:      "Messages published to a dead-letter queue after retries.",
	}, []string{"queue"})

	// SagaStepsTotal counts orchestrator step outcomes.
	SagaStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "saga_steps_total",
		Help:      "Saga step executions by step name and outcome.",
	}, []string{"step", "status"})
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
