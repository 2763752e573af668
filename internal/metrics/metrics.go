// Package metrics defines the internal instrument set for the
// scheduler/worker/coordinator/ingress daemons, grounded on the
// teacher's internal/metrics. Unlike the teacher, this package never
// starts an HTTP listener — the exporter surface is an external
// collaborator out of scope here (spec.md §1); Registry() only gives
// an external process something to scrape from.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ClaimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ordinaut",
		Name:      "claim_latency_seconds",
		Help:      "Time from due_work.run_at to the row being claimed.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ordinaut",
		Name:      "step_duration_seconds",
		Help:      "Duration of a single pipeline step invocation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	TaskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "task_runs_total",
		Help:      "Total task runs finished, by outcome.",
	}, []string{"outcome"})

	StepRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "step_retries_total",
		Help:      "Total step-level retries performed by the executor.",
	}, []string{"task_id"})

	LeaseRenewalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "lease_renewals_total",
		Help:      "Total lease renewals issued by workers.",
	})

	LeasesReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "leases_reclaimed_total",
		Help:      "Total expired leases reclaimed by the coordinator.",
	})

	DeadWorkersPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "dead_workers_pruned_total",
		Help:      "Total worker heartbeat rows pruned as dead.",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ordinaut",
		Name:      "queue_depth",
		Help:      "Current due_work row count by state.",
	}, []string{"state"})

	EventsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordinaut",
		Name:      "events_ingested_total",
		Help:      "Total events consumed by the event ingress, by outcome.",
	}, []string{"outcome"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		ClaimLatency,
		StepDuration,
		TaskRunsTotal,
		StepRetriesTotal,
		LeaseRenewalsTotal,
		LeasesReclaimedTotal,
		DeadWorkersPrunedTotal,
		QueueDepth,
		EventsIngestedTotal,
	)
}

// Registry exposes the private registry for an external process (not
// part of this core) to wire into its own exporter.
func Registry() *prometheus.Registry {
	return registry
}
