// Package metrics instruments the engine with Prometheus counters and
// histograms, in the style of the teacher's daemon/metrics.go: package-level
// promauto-registered collectors with small wrapper functions so call sites
// never touch a *prometheus.CounterVec directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	driverStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runixd",
		Subsystem: "supervisor",
		Name:      "driver_starts_total",
		Help:      "Number of driver process start attempts, by driver id and outcome.",
	}, []string{"driver", "outcome"})

	driverKills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runixd",
		Subsystem: "supervisor",
		Name:      "driver_kills_total",
		Help:      "Number of driver process kills, by driver id and reason.",
	}, []string{"driver", "reason"})

	rpcCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runixd",
		Subsystem: "driverclient",
		Name:      "rpc_call_duration_seconds",
		Help:      "Driver RPC call latency, by method and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	routerResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runixd",
		Subsystem: "router",
		Name:      "resolutions_total",
		Help:      "Step resolution attempts, by outcome.",
	}, []string{"outcome"})

	agentIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runixd",
		Subsystem: "agent",
		Name:      "loop_iterations_total",
		Help:      "Agent Loop runs that reached a terminal state, by that state.",
	}, []string{"outcome"})
)

// ObserveDriverStart records a driver process start attempt.
func ObserveDriverStart(driverID string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	driverStarts.WithLabelValues(driverID, outcome).Inc()
}

// ObserveDriverKill records a driver process kill, e.g. reason="forced"
// (the reason the supervisor records for every kill).
func ObserveDriverKill(driverID, reason string) {
	driverKills.WithLabelValues(driverID, reason).Inc()
}

// ObserveRPCCall records one driver RPC call's latency and outcome.
func ObserveRPCCall(method string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	rpcCalls.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// ObserveResolution records one router.Resolve call's outcome.
func ObserveResolution(matched bool) {
	outcome := "match"
	if !matched {
		outcome = "no_match"
	}
	routerResolutions.WithLabelValues(outcome).Inc()
}

// ObserveAgentTerminal records an Agent Loop reaching a terminal state.
func ObserveAgentTerminal(outcome string) {
	agentIterations.WithLabelValues(outcome).Inc()
}
