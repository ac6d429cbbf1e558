package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChainRequests         *prometheus.CounterVec
	ChainFailovers        *prometheus.CounterVec
	TaskCacheRefreshes    *prometheus.CounterVec
	CachedTasks           prometheus.Gauge
	OracleRequests        *prometheus.CounterVec
	VerificationsCreated  prometheus.Counter
	VerificationsResolved *prometheus.CounterVec
	FinalizeAttempts      *prometheus.CounterVec
	WebhookEvents         *prometheus.CounterVec
	ClaimsAuthorized      *prometheus.CounterVec
)

var Registered = false

func RegisterMetrics(namespace string) {
	if Registered {
		return
	}
	Registered = true

	ChainRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "requests_total",
			Namespace: namespace,
			Subsystem: "chain",
			Help:      "Chain endpoint calls by result (ok, transient, error).",
		},
		[]string{"endpoint", "op", "result"},
	)

	ChainFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "failovers_total",
			Namespace: namespace,
			Subsystem: "chain",
			Help:      "Times a call moved on to the next endpoint.",
		},
		[]string{"endpoint", "op"},
	)

	TaskCacheRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "task_cache_refreshes_total",
			Namespace: namespace,
			Subsystem: "chain",
			Help:      "Task cache refresh outcomes.",
		},
		[]string{"result"},
	)

	CachedTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:      "cached_tasks",
			Namespace: namespace,
			Subsystem: "chain",
			Help:      "Number of tasks in the cached snapshot.",
		},
	)

	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "requests_total",
			Namespace: namespace,
			Subsystem: "oracle",
			Help:      "Social graph requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	VerificationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "created_total",
			Namespace: namespace,
			Subsystem: "verifications",
			Help:      "Pending verifications created.",
		},
	)

	VerificationsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "resolved_total",
			Namespace: namespace,
			Subsystem: "verifications",
			Help:      "Verifications leaving pending, by final status and ingress.",
		},
		[]string{"status", "source"},
	)

	FinalizeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "finalize_attempts_total",
			Namespace: namespace,
			Subsystem: "verifications",
			Help:      "Finalize attempts by ingress and outcome (won, lost, expired).",
		},
		[]string{"source", "outcome"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "events_total",
			Namespace: namespace,
			Subsystem: "webhook",
			Help:      "Inbound social events by outcome.",
		},
		[]string{"outcome"},
	)

	ClaimsAuthorized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "authorized_total",
			Namespace: namespace,
			Subsystem: "claims",
			Help:      "Claim signatures issued by tier.",
		},
		[]string{"tier"},
	)

	prometheus.MustRegister(ChainRequests)
	prometheus.MustRegister(ChainFailovers)
	prometheus.MustRegister(TaskCacheRefreshes)
	prometheus.MustRegister(CachedTasks)
	prometheus.MustRegister(OracleRequests)
	prometheus.MustRegister(VerificationsCreated)
	prometheus.MustRegister(VerificationsResolved)
	prometheus.MustRegister(FinalizeAttempts)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(ClaimsAuthorized)
}
