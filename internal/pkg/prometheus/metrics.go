package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "butler"

var (
	// JobRuns counts scheduler dispatches by outcome (ok, error, skipped).
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cronjob",
		Name:      "runs_total",
		Help:      "Number of scheduled job runs by outcome.",
	}, []string{"status"})

	// HeartbeatRuns counts heartbeat polls by trigger and outcome.
	HeartbeatRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heartbeat",
		Name:      "runs_total",
		Help:      "Number of heartbeat polls by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	// ServiceStatus is 1 while the named service is running, 0 otherwise.
	ServiceStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "status",
		Help:      "Whether a supervised service is running (1) or not (0).",
	}, []string{"service"})
)
