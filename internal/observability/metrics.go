package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	nodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodectl",
			Subsystem: "node",
			Name:      "state",
			Help:      "1 for the current supervised node lifecycle state.",
		},
		[]string{"state"},
	)
	nodeStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "node",
			Name:      "starts_total",
			Help:      "Node spawn attempts.",
		},
		[]string{"kind", "network", "success"},
	)
	nodeCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "node",
			Name:      "crashes_total",
			Help:      "Unexpected node exits while running.",
		},
		[]string{"kind", "network"},
	)
	nodeForceKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "node",
			Name:      "force_kills_total",
			Help:      "Stops that needed SIGKILL after the grace period.",
		},
	)
	ipcConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "ipc",
			Name:      "connects_total",
			Help:      "IPC connect outcomes per socket.",
		},
		[]string{"socket", "result"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodectl",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Multiplexed requests by outcome.",
		},
		[]string{"outcome"},
	)
	rpcDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nodectl",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Multiplexed request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	rpcPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodectl",
			Subsystem: "rpc",
			Name:      "pending_requests",
			Help:      "Requests waiting for a node response.",
		},
	)
	startupState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodectl",
			Subsystem: "startup",
			Name:      "state",
			Help:      "1 for the current orchestrator state.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			nodeState, nodeStarts, nodeCrashes, nodeForceKills,
			ipcConnects,
			rpcRequests, rpcDuration, rpcPending,
			startupState,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordNodeState(prev, next string) {
	RegisterMetrics()
	if prev != "" {
		nodeState.WithLabelValues(prev).Set(0)
	}
	nodeState.WithLabelValues(next).Set(1)
}

func RecordNodeStart(kind, network string, success bool) {
	RegisterMetrics()
	nodeStarts.WithLabelValues(kind, network, strconv.FormatBool(success)).Inc()
}

func RecordNodeCrash(kind, network string) {
	RegisterMetrics()
	nodeCrashes.WithLabelValues(kind, network).Inc()
}

func RecordNodeForceKill() {
	RegisterMetrics()
	nodeForceKills.Inc()
}

func RecordIPCConnect(socket, result string) {
	RegisterMetrics()
	ipcConnects.WithLabelValues(socket, result).Inc()
}

func RecordRPCRequest(outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcRequests.WithLabelValues(outcome).Inc()
	rpcDuration.Observe(duration.Seconds())
}

func SetRPCPending(n int) {
	RegisterMetrics()
	rpcPending.Set(float64(n))
}

func RecordStartupState(prev, next string) {
	RegisterMetrics()
	if prev != "" {
		startupState.WithLabelValues(prev).Set(0)
	}
	startupState.WithLabelValues(next).Set(1)
}
